// Package review implements the suggestion review session: accepting and
// rejecting grammar edits against a snapshot of document text, remapping the
// positions of not-yet-resolved suggestions as earlier ones are applied, and
// remembering rejected edits so they are not surfaced again.
package review

import (
	"fmt"
	"sort"
)

// Suggestion is a proposed replacement over the half-open rune range
// [Start, End) of the original text. Offsets always refer to the text the
// batch was generated against, never to the live preview.
type Suggestion struct {
	ID          string `json:"id"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Category    string `json:"category,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// Fingerprint derives a stable identity for a suggestion from its original
// coordinates and text content. Two suggestions proposing the same edit at the
// same place fingerprint identically regardless of ID or other metadata.
func Fingerprint(s Suggestion) string {
	return fmt.Sprintf("%d:%d:%s→%s", s.Start, s.End, s.Original, s.Replacement)
}

// RangeKey is the backend-facing "start-end" form of a suggestion's original
// coordinates, used in rejection lists sent back to the correction service.
func RangeKey(start, end int) string {
	return fmt.Sprintf("%d-%d", start, end)
}

// RejectionPayload is handed to the host when a suggestion is rejected. Start,
// End and RangeKey are always the pre-remap coordinates so the record stays
// valid across refetches of the same document text.
type RejectionPayload struct {
	ID          string `json:"id"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	RangeKey    string `json:"rangeKey"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Rule        string `json:"rule,omitempty"`
	Message     string `json:"message,omitempty"`
	Type        string `json:"type"`
}

// RejectionStore records fingerprints of dismissed suggestions for one
// document. Put is fire-and-forget: a lost write only means a once-rejected
// suggestion may resurface, so the session never blocks on it.
type RejectionStore interface {
	Has(fingerprint string) bool
	Put(fingerprint string, payload RejectionPayload)
}

// normalize prepares an inbound batch: synthesizes missing IDs from batch
// index and start offset, drops malformed entries and entries whose range
// overlaps an earlier suggestion, and skips anything already rejected.
func normalize(orig []rune, batch []Suggestion, store RejectionStore) []Suggestion {
	valid := make([]Suggestion, 0, len(batch))
	for index, s := range batch {
		if s.Start < 0 || s.End <= s.Start || s.End > len(orig) {
			continue
		}
		if s.Original != "" && string(orig[s.Start:s.End]) != s.Original {
			continue
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("sugg-%d-%d", index, s.Start)
		}
		if s.Original == "" {
			s.Original = string(orig[s.Start:s.End])
		}
		valid = append(valid, s)
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })

	pending := make([]Suggestion, 0, len(valid))
	prevEnd := -1
	for _, s := range valid {
		if s.Start < prevEnd {
			continue
		}
		if store != nil && store.Has(Fingerprint(s)) {
			continue
		}
		pending = append(pending, s)
		prevEnd = s.End
	}
	return pending
}
