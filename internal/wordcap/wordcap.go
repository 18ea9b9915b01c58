// Package wordcap implements the per-tier word limits: a base cap, a buffer
// that inflates when AI output pushes a document past the cap, and a deflated
// cap that chases the count back down as the user trims content.
package wordcap

import (
	"math"
	"strings"
)

const (
	freeBaseCap = 200
	proBaseCap  = 600
	bufferMin   = 20

	freeInflatePct = 0.12
	proInflatePct  = 0.14
	freeDeflatePct = 0.06
	proDeflatePct  = 0.03
)

// Limits holds the word-limit parameters for a subscription tier.
type Limits struct {
	BaseCap    int
	InflatePct float64
	DeflatePct float64
}

// ForTier returns the limit parameters for a tier. Anything other than pro is
// treated as free.
func ForTier(pro bool) Limits {
	if pro {
		return Limits{BaseCap: proBaseCap, InflatePct: proInflatePct, DeflatePct: proDeflatePct}
	}
	return Limits{BaseCap: freeBaseCap, InflatePct: freeInflatePct, DeflatePct: freeDeflatePct}
}

// InflatedCap is the cap granted when an AI write exceeds the current cap:
// the word count plus a tier-relative buffer, never less than bufferMin words
// of headroom.
func InflatedCap(wordCount int, pro bool) int {
	limits := ForTier(pro)
	buffer := math.Max(float64(wordCount)*limits.InflatePct, bufferMin)
	return int(math.Ceil(float64(wordCount) + buffer))
}

// DeflatedCap is the tightened cap applied as manual edits shrink the
// document. Callers clamp the result to at least the base cap.
func DeflatedCap(wordCount int, pro bool) int {
	limits := ForTier(pro)
	buffer := math.Max(float64(wordCount)*limits.DeflatePct, bufferMin)
	return int(math.Ceil(float64(wordCount) + buffer))
}

// NextCap computes the live cap after a document update. AI-driven updates
// may inflate the cap; manual updates deflate it toward the base cap but
// never below it. The current cap is returned unchanged when no adjustment
// applies.
func NextCap(currentCap, wordCount int, pro, aiUpdate bool) int {
	limits := ForTier(pro)
	if currentCap < limits.BaseCap {
		currentCap = limits.BaseCap
	}
	if aiUpdate && wordCount > currentCap {
		return InflatedCap(wordCount, pro)
	}
	if !aiUpdate && wordCount < currentCap {
		if target := DeflatedCap(wordCount, pro); target < currentCap {
			if target < limits.BaseCap {
				return limits.BaseCap
			}
			return target
		}
	}
	return currentCap
}

// Count reports the number of whitespace-separated words in text.
func Count(text string) int {
	return len(strings.Fields(text))
}
