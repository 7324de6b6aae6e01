package utils

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]+`)

// NormalizeReference uppercases and strips everything but letters/digits so
// "inv-001", "INV 001" and "Inv#001" all collapse to "INV001".
func NormalizeReference(ref string) string {
	return nonAlnum.ReplaceAllString(strings.ToUpper(ref), "")
}

// ContainsReference reports whether needle appears verbatim in haystack after
// both sides are normalized. Empty needles never match.
func ContainsReference(haystack, needle string) bool {
	n := NormalizeReference(needle)
	if n == "" {
		return false
	}
	return strings.Contains(NormalizeReference(haystack), n)
}

// NormalizePhone keeps digits only, dropping a leading country prefix "00".
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return strings.TrimPrefix(b.String(), "00")
}

// FuzzyNameMatch reports whether two display names are close enough to count
// as the same party (edit distance within ~25% of the longer name).
func FuzzyNameMatch(a, b string) bool {
	na := strings.ToUpper(strings.TrimSpace(a))
	nb := strings.ToUpper(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	return levenshtein.ComputeDistance(na, nb)*4 <= longest
}

func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
