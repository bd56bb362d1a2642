package util

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"golang.org/x/text/cases"
)

// ContainsAnyCaseInsensitive returns true if text contains any of the needles (case-insensitive).
func ContainsAnyCaseInsensitive(text string, needles []string) bool {
	lt := strings.ToLower(text)
	for _, n := range needles {
		if n != "" && strings.Contains(lt, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// CountContained returns how many distinct needles occur in text as case-insensitive substrings.
func CountContained(text string, needles []string) int {
	lt := strings.ToLower(text)
	n := 0
	for _, k := range needles {
		if k != "" && strings.Contains(lt, strings.ToLower(k)) {
			n++
		}
	}
	return n
}

// Fold returns the case-folded form of s, suitable for case-insensitive equality.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeUsername strips surrounding whitespace and any leading '@', then case-folds.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "@")
	return Fold(strings.TrimSpace(s))
}

// Length counts user-perceived characters (grapheme clusters).
func Length(s string) int {
	return uniseg.GraphemeClusterCount(s)
}

// TruncateWords shortens s to at most limit grapheme clusters, including marker.
// The cut happens at the last whitespace before the budget when one exists in the
// second half of the budget; otherwise the text is cut hard.
func TruncateWords(s string, limit int, marker string) string {
	if limit <= 0 {
		return ""
	}
	if Length(s) <= limit {
		return s
	}
	budget := limit - Length(marker)
	if budget <= 0 {
		return firstClusters(marker, limit)
	}
	prefix := firstClusters(s, budget)
	cut := lastSpace(prefix)
	if cut > len(prefix)/2 {
		prefix = prefix[:cut]
	}
	return strings.TrimRightFunc(prefix, unicode.IsSpace) + marker
}

func firstClusters(s string, n int) string {
	g := uniseg.NewGraphemes(s)
	end := 0
	for i := 0; i < n && g.Next(); i++ {
		_, end = g.Positions()
	}
	return s[:end]
}

// lastSpace returns the byte offset of the last whitespace rune in s, or -1.
func lastSpace(s string) int {
	return strings.LastIndexFunc(s, unicode.IsSpace)
}
