package boundary

import "github.com/flockfinder/flockfinder/internal/model"

// SplitBBox decomposes a bounding box into tiles no larger than maxArea
// square degrees. Oversized boxes are split into quadrants via an explicit
// work queue; tiles come out in a stable breadth-first order. The union of
// the returned tiles always equals the input box.
func SplitBBox(box model.BBox, maxArea float64) []model.BBox {
	if maxArea <= 0 || box.Area() <= maxArea {
		return []model.BBox{box}
	}

	queue := []model.BBox{box}
	var tiles []model.BBox
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.Area() <= maxArea {
			tiles = append(tiles, cur)
			continue
		}
		quads := cur.Quadrants()
		queue = append(queue, quads[:]...)
	}
	return tiles
}
