// Package prompt renders the instructions sent to fix providers.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const (
	maxLogBytes  = 12_000
	maxCodeBytes = 24_000

	maxPatternBytes = 300
)

// System is the system message shared by all requests.
const System = "You are a senior site reliability engineer. You fix resource usage problems in application code and explain your fixes precisely."

// Fix asks for a corrected version of the application code.
func Fix(req models.FixRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The pod %s is using too much %s (observed %s, threshold %s).\n\n",
		req.Entity, req.Kind, formatValue(req.Kind, req.Value), formatValue(req.Kind, req.Threshold))
	if len(req.Patterns) > 0 {
		b.WriteString("Recurring log patterns, most frequent first:\n")
		for _, p := range req.Patterns {
			fmt.Fprintf(&b, "- %dx [%s] %s\n", p.Count, p.Level, Truncate(p.Sample, maxPatternBytes))
		}
		b.WriteString("\n")
	}
	b.WriteString("Recent logs:\n```\n")
	b.WriteString(TruncateTail(req.Logs, maxLogBytes))
	b.WriteString("\n```\n\nApplication code:\n```\n")
	b.WriteString(Truncate(req.Code, maxCodeBytes))
	b.WriteString("\n```\n\n")
	b.WriteString("Return only the complete corrected code, with no commentary.")
	return b.String()
}

// Describe asks for a JSON description of a generated fix.
func Describe(req models.FixRequest, fixedCode string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A fix was generated for high %s usage in pod %s.\n\n", req.Kind, req.Entity)
	b.WriteString("Original code:\n```\n")
	b.WriteString(Truncate(req.Code, maxCodeBytes/2))
	b.WriteString("\n```\n\nFixed code:\n```\n")
	b.WriteString(Truncate(fixedCode, maxCodeBytes/2))
	b.WriteString("\n```\n\n")
	b.WriteString(`Respond with a single JSON object with the string fields "analysis", "fix_description", "fix_file", "pr_title" and "pr_body". Do not wrap it in markdown.`)
	return b.String()
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Truncate cuts s to maxBytes without splitting UTF-8 runes, keeping the head.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// TruncateTail keeps the last maxBytes of s without splitting UTF-8 runes.
func TruncateTail(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	start := len(s) - maxBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func formatValue(k models.Kind, v float64) string {
	if k == models.KindMemory {
		return fmt.Sprintf("%.0f bytes", v)
	}
	return fmt.Sprintf("%.1f%%", v)
}
