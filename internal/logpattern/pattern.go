// Package logpattern condenses raw pod logs into recurring message patterns.
package logpattern

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const (
	maxNormalizedBytes = 500
	maxSampleBytes     = 2000
)

// Normalization regexes compiled once at package init.
var (
	reDatetime   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?\s*`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	reWhitespace = regexp.MustCompile(`\s+`)
	reLevel      = regexp.MustCompile(`(?i)\b(fatal|critical|error|warning|warn|info|debug)\b`)
)

// Group splits logs into lines and groups them by fingerprint. Blank lines
// are skipped. Patterns are sorted by count, then severity, then first
// appearance. Returns an empty slice for empty input (never nil).
func Group(logs string) []models.LogPattern {
	type state struct {
		pattern models.LogPattern
		first   int
	}

	groups := make(map[string]*state)
	order := 0
	for _, line := range strings.Split(logs, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fp := Fingerprint(line)
		level := DetectLevel(line)
		st, ok := groups[fp]
		if !ok {
			st = &state{
				pattern: models.LogPattern{
					Fingerprint: fp,
					Level:       level,
					Sample:      truncate(line, maxSampleBytes),
				},
				first: order,
			}
			groups[fp] = st
			order++
		}
		st.pattern.Count++
		if LevelSeverity(level) > LevelSeverity(st.pattern.Level) {
			st.pattern.Level = level
		}
	}

	states := make([]*state, 0, len(groups))
	for _, st := range groups {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		a, b := states[i].pattern, states[j].pattern
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if sa, sb := LevelSeverity(a.Level), LevelSeverity(b.Level); sa != sb {
			return sa > sb
		}
		return states[i].first < states[j].first
	})

	out := make([]models.LogPattern, len(states))
	for i, st := range states {
		out[i] = st.pattern
	}
	return out
}

// Top returns at most n patterns from Group.
func Top(logs string, n int) []models.LogPattern {
	patterns := Group(logs)
	if n >= 0 && len(patterns) > n {
		patterns = patterns[:n]
	}
	return patterns
}

// Fingerprint computes a stable SHA-256 fingerprint for a log message.
func Fingerprint(message string) string {
	hash := sha256.Sum256([]byte(NormalizeMessage(message)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeMessage strips the parts of a message that vary between
// occurrences of the same event.
func NormalizeMessage(msg string) string {
	msg = reDatetime.ReplaceAllString(msg, "")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reBracketNum.ReplaceAllString(msg, "[N]")
	msg = reParenNum.ReplaceAllString(msg, "(N)")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	return truncate(msg, maxNormalizedBytes)
}

// DetectLevel returns the first level keyword found in line, lowercased,
// or "info" when there is none.
func DetectLevel(line string) string {
	m := reLevel.FindString(line)
	if m == "" {
		return "info"
	}
	return strings.ToLower(m)
}

// LevelSeverity maps a log level string to a numeric severity.
func LevelSeverity(level string) int {
	switch strings.ToUpper(level) {
	case "FATAL":
		return 4
	case "CRITICAL":
		return 3
	case "ERROR":
		return 2
	case "WARN", "WARNING":
		return 1
	default:
		return 0
	}
}

// truncate cuts s to maxBytes without splitting UTF-8 runes.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
