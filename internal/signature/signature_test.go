package signature

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockfinder/flockfinder/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testStore(t *testing.T) *Store {
	t.Helper()
	bssid := writeFile(t, "bssid.json", `{"bssid_prefixes": ["08:3A:88", "F8:4D:89"]}`)
	ssid := writeFile(t, "ssid.json", `{"ssid_prefixes": ["Flock-%", "*Penguin*", "FalconCam"]}`)
	s, err := Load(bssid, ssid)
	require.NoError(t, err)
	return s
}

func TestLoad_JSONAndYAML(t *testing.T) {
	s := testStore(t)
	assert.Equal(t, 2, s.BSSIDPrefixCount())
	assert.Equal(t, 3, s.SSIDPatternCount())

	combined := writeFile(t, "sigs.yaml", "bssid_prefixes:\n  - \"aa:bb:cc\"\nssid_prefixes:\n  - \"Cam-%\"\n")
	ys, err := Load(combined, combined)
	require.NoError(t, err)
	assert.Equal(t, 1, ys.BSSIDPrefixCount())
	assert.Equal(t, 1, ys.SSIDPatternCount())

	// Lowercase input is normalized for BSSID matching.
	_, ok := ys.MatchBSSID("AA:BB:CC:00:11:22")
	assert.True(t, ok)
}

func TestLoad_EmptyIsError(t *testing.T) {
	empty := writeFile(t, "empty.json", `{}`)
	_, err := Load(empty, empty)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestMatchBSSID(t *testing.T) {
	s := testStore(t)

	sig, ok := s.MatchBSSID("08:3a:88:11:22:33")
	assert.True(t, ok)
	assert.Equal(t, "08:3A:88", sig)

	sig, ok = s.MatchBSSID("f8-4d-89-aa-bb-cc")
	assert.True(t, ok)
	assert.Equal(t, "F8:4D:89", sig)

	_, ok = s.MatchBSSID("00:11:22:33:44:55")
	assert.False(t, ok)
}

func TestMatchSSID_Wildcards(t *testing.T) {
	s := testStore(t)

	tests := []struct {
		ssid string
		want bool
	}{
		{"Flock-ABC123", true},  // anchored prefix with % wildcard
		{"myFlock-ABC", false},  // anchored at start, must not match mid-string
		{"icyPenguin22", true},  // unanchored * wildcard
		{"a FalconCam b", true}, // no wildcard: substring
		{"falconcam", true},     // case-insensitive
		{"", false},             // empty SSID never matches
		{"Linksys", false},
	}
	for _, tt := range tests {
		_, ok := s.MatchSSID(tt.ssid)
		assert.Equal(t, tt.want, ok, "ssid %q", tt.ssid)
	}
}

func TestClassify_PrefixWins(t *testing.T) {
	s := testStore(t)

	// Matches both rules: prefix is the more specific signal and wins.
	obs := model.Observation{
		BSSID:    "08:3A:88:11:22:33",
		SSID:     "Flock-ABC123",
		LastSeen: time.Now(),
	}
	reason, sig, ok := s.Classify(obs)
	require.True(t, ok)
	assert.Equal(t, model.ReasonBSSIDPrefix, reason)
	assert.Equal(t, "08:3A:88", sig)

	// Empty SSID can still classify by BSSID prefix alone.
	reason, _, ok = s.Classify(model.Observation{BSSID: "F8:4D:89:00:00:01"})
	require.True(t, ok)
	assert.Equal(t, model.ReasonBSSIDPrefix, reason)

	// SSID-only match.
	reason, sig, ok = s.Classify(model.Observation{BSSID: "00:00:00:00:00:01", SSID: "Flock-XYZ"})
	require.True(t, ok)
	assert.Equal(t, model.ReasonSSIDPattern, reason)
	assert.Equal(t, "Flock-%", sig)

	// No match.
	_, _, ok = s.Classify(model.Observation{BSSID: "00:00:00:00:00:01", SSID: "HomeWifi"})
	assert.False(t, ok)
}
