// Package signature holds the curated surveillance-device signature lists:
// known BSSID prefixes and SSID patterns. The store is loaded once at startup
// and read-only for the rest of the run.
package signature

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flockfinder/flockfinder/internal/model"
)

// Store holds normalized device signatures. Safe for concurrent reads.
type Store struct {
	bssidPrefixes []string // uppercase, colon-delimited
	ssidPatterns  []string // original casing preserved for reporting
}

// signatureFile is the on-disk shape of signature lists. Both keys are
// accepted in one combined file or split across two.
type signatureFile struct {
	BSSIDPrefixes []string `json:"bssid_prefixes" yaml:"bssid_prefixes"`
	SSIDPrefixes  []string `json:"ssid_prefixes" yaml:"ssid_prefixes"`
}

// Load reads BSSID-prefix and SSID-pattern files and builds a Store. Either
// path may point at a combined file carrying both lists. A store with no
// usable signatures at all is a configuration error.
func Load(bssidPath, ssidPath string) (*Store, error) {
	s := &Store{}

	bf, err := readSignatureFile(bssidPath)
	if err != nil {
		return nil, err
	}
	// A combined file named twice must not load its lists twice.
	sf := &signatureFile{}
	if ssidPath != bssidPath {
		sf, err = readSignatureFile(ssidPath)
		if err != nil {
			return nil, err
		}
	}

	for _, p := range append(bf.BSSIDPrefixes, sf.BSSIDPrefixes...) {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			s.bssidPrefixes = append(s.bssidPrefixes, p)
		}
	}
	for _, p := range append(bf.SSIDPrefixes, sf.SSIDPrefixes...) {
		p = strings.TrimSpace(p)
		if p != "" {
			s.ssidPatterns = append(s.ssidPatterns, p)
		}
	}

	if len(s.bssidPrefixes) == 0 && len(s.ssidPatterns) == 0 {
		return nil, eris.Errorf("signature: no signatures loaded from %s, %s", bssidPath, ssidPath)
	}

	zap.L().Info("signature store loaded",
		zap.Int("bssid_prefixes", len(s.bssidPrefixes)),
		zap.Int("ssid_patterns", len(s.ssidPatterns)),
	)
	return s, nil
}

func readSignatureFile(path string) (*signatureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "signature: read %s", path)
	}

	var sf signatureFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, eris.Wrapf(err, "signature: parse yaml %s", path)
		}
	default:
		if err := json.Unmarshal(data, &sf); err != nil {
			return nil, eris.Wrapf(err, "signature: parse json %s", path)
		}
	}
	return &sf, nil
}

// BSSIDPrefixCount returns the number of loaded BSSID prefixes.
func (s *Store) BSSIDPrefixCount() int { return len(s.bssidPrefixes) }

// SSIDPatternCount returns the number of loaded SSID patterns.
func (s *Store) SSIDPatternCount() int { return len(s.ssidPatterns) }

// SSIDPatterns returns the loaded SSID patterns, used to drive per-pattern
// API searches.
func (s *Store) SSIDPatterns() []string {
	out := make([]string, len(s.ssidPatterns))
	copy(out, s.ssidPatterns)
	return out
}

// MatchBSSID tests the observation's MAC against every known BSSID prefix.
// The comparison is case-insensitive on the normalized colon-delimited form.
func (s *Store) MatchBSSID(bssid string) (string, bool) {
	norm := model.NormalizeBSSID(bssid)
	for _, prefix := range s.bssidPrefixes {
		if strings.HasPrefix(norm, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// MatchSSID tests a network name against every known SSID pattern. Patterns
// support '%' and '*' wildcards; a pattern without wildcards matches as a
// case-insensitive substring. An empty SSID never matches.
func (s *Store) MatchSSID(ssid string) (string, bool) {
	if ssid == "" {
		return "", false
	}
	lower := strings.ToLower(ssid)
	for _, pattern := range s.ssidPatterns {
		if matchPattern(lower, strings.ToLower(pattern)) {
			return pattern, true
		}
	}
	return "", false
}

// Classify applies both signature rules to an observation. The BSSID-prefix
// rule is checked first: it is the more specific signal, so it wins as the
// reported reason when both would match. SSID rules never fire on an empty
// SSID. Returns ok=false when neither rule matches.
func (s *Store) Classify(obs model.Observation) (model.MatchReason, string, bool) {
	if sig, ok := s.MatchBSSID(obs.BSSID); ok {
		return model.ReasonBSSIDPrefix, sig, true
	}
	if sig, ok := s.MatchSSID(obs.SSID); ok {
		return model.ReasonSSIDPattern, sig, true
	}
	return "", "", false
}

// matchPattern matches s against pattern, where '%' and '*' match any run of
// characters. Both inputs must already be lowercased. A pattern with no
// wildcards matches as a substring.
func matchPattern(s, pattern string) bool {
	if !strings.ContainsAny(pattern, "%*") {
		return strings.Contains(s, pattern)
	}

	segments := strings.FieldsFunc(pattern, func(r rune) bool {
		return r == '%' || r == '*'
	})
	anchoredStart := len(pattern) > 0 && pattern[0] != '%' && pattern[0] != '*'
	anchoredEnd := len(pattern) > 0 && pattern[len(pattern)-1] != '%' && pattern[len(pattern)-1] != '*'

	pos := 0
	for i, seg := range segments {
		idx := strings.Index(s[pos:], seg)
		if idx < 0 {
			return false
		}
		if i == 0 && anchoredStart && idx != 0 {
			return false
		}
		pos += idx + len(seg)
	}
	if anchoredEnd && len(segments) > 0 {
		return strings.HasSuffix(s, segments[len(segments)-1])
	}
	return true
}
