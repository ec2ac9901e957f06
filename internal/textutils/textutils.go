// Package textutils provides description normalization and similarity scoring
// shared by the scoring engine and the fuzzy rule criteria.
package textutils

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

var (
	punctRe      = regexp.MustCompile(`[^\pL\pN ]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize lowercases a description, strips punctuation and collapses
// whitespace so that "Payment  from CLIENT, Inc." and "payment from client inc"
// compare equal.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize splits a normalized description into tokens.
func Tokenize(s string) []string {
	s = Normalize(s)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// TokenOverlap returns the fraction of tokens of the shorter string that also
// appear in the longer one, in [0,1].
func TokenOverlap(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	set := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		set[t] = struct{}{}
	}
	hits := 0
	for _, t := range ta {
		if _, ok := set[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(ta))
}

// EditSimilarity returns 1 - normalized levenshtein distance between the
// normalized forms of a and b, in [0,1].
func EditSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	return 1 - float64(dist)/float64(maxLen)
}

// Similarity combines token overlap, substring containment and edit distance
// into one [0,1] score; the best signal wins. Exact normalized equality is 1.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	best := EditSimilarity(a, b)
	if overlap := TokenOverlap(a, b); overlap > best {
		best = overlap
	}
	// Containment of the shorter description in the longer is a strong signal
	// for bank feeds that append processor noise around the payee.
	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) >= 4 && strings.Contains(longer, shorter) {
		contained := float64(len(shorter)) / float64(len(longer))
		if contained < 0.6 {
			contained = 0.6
		}
		if contained > best {
			best = contained
		}
	}
	return best
}
