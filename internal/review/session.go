package review

import "sort"

// Callbacks are invoked as a side effect of session operations. Either may be
// nil. OnFinish receives the committed text when the session resolves with
// changes, or when the host closes a session whose preview diverged from the
// original. OnReject receives the backend-facing payload for each rejection.
type Callbacks struct {
	OnFinish func(finalText string)
	OnReject func(payload RejectionPayload)
}

// Session reviews one batch of suggestions against an immutable snapshot of
// document text. All operations are total: invalid commands (accept with
// nothing active, navigate with fewer than two items) are silent no-ops.
// A Session is not safe for concurrent use; callers drive it from one
// goroutine in invocation order.
type Session struct {
	orig     []rune
	live     []rune
	pending  []Suggestion
	ledger   []AcceptedEdit
	activeID string
	store    RejectionStore
	cb       Callbacks
	resolved bool
}

// NewSession ingests a suggestion batch for the given original text, dropping
// malformed or overlapping entries and anything the store has already
// rejected, and selects the first remaining suggestion.
func NewSession(originalText string, batch []Suggestion, store RejectionStore, cb Callbacks) *Session {
	orig := []rune(originalText)
	s := &Session{
		orig:    orig,
		live:    append([]rune(nil), orig...),
		pending: normalize(orig, batch, store),
		store:   store,
		cb:      cb,
	}
	if len(s.pending) == 0 {
		s.resolved = true
		return s
	}
	s.ensureActive()
	return s
}

// LiveText returns the preview text with every accepted edit applied.
func (s *Session) LiveText() string {
	return string(s.live)
}

// Resolved reports whether every suggestion in the batch has been handled.
// A resolved session is terminal; start a new one for the next batch.
func (s *Session) Resolved() bool {
	return s.resolved
}

// ActiveID returns the ID of the focused suggestion, or "" when none remain.
func (s *Session) ActiveID() string {
	return s.activeID
}

// Suggestions returns the pending suggestions with their positions remapped
// into live-text coordinates, in ascending live order.
func (s *Session) Suggestions() []Suggestion {
	out := make([]Suggestion, len(s.pending))
	for i, p := range s.pending {
		p.Start = Remap(p.Start, s.ledger)
		p.End = Remap(p.End, s.ledger)
		out[i] = p
	}
	return out
}

// Active returns the focused suggestion in live coordinates.
func (s *Session) Active() (Suggestion, bool) {
	for _, p := range s.Suggestions() {
		if p.ID == s.activeID {
			return p, true
		}
	}
	return Suggestion{}, false
}

// AcceptActive applies the focused suggestion's replacement to the live text
// at its remapped position and records the edit in the ledger. No-op when
// nothing is active.
func (s *Session) AcceptActive() {
	if s.resolved {
		return
	}
	idx := s.pendingIndex(s.activeID)
	if idx < 0 {
		return
	}
	s.apply(s.pending[idx])
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	s.afterResolve()
}

// RejectActive rejects the focused suggestion. No-op when nothing is active.
func (s *Session) RejectActive() {
	s.Reject(s.activeID)
}

// Reject dismisses a pending suggestion by ID: its fingerprint, computed from
// the original pre-remap coordinates, is recorded in the store so the same
// edit is not resurfaced, and the host's reject callback is invoked. The live
// text is untouched.
func (s *Session) Reject(id string) {
	if s.resolved {
		return
	}
	idx := s.pendingIndex(id)
	if idx < 0 {
		return
	}
	base := s.pending[idx]

	payload := RejectionPayload{
		ID:          base.ID,
		Start:       base.Start,
		End:         base.End,
		RangeKey:    RangeKey(base.Start, base.End),
		Original:    base.Original,
		Replacement: base.Replacement,
		Rule:        base.Category,
		Message:     base.Explanation,
		Type:        "grammar",
	}
	if s.store != nil {
		s.store.Put(Fingerprint(base), payload)
	}
	if s.cb.OnReject != nil {
		s.cb.OnReject(payload)
	}

	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	s.afterResolve()
}

// AcceptAll applies every still-pending suggestion to the live text in
// ascending order and resolves the session. Edits accepted individually
// earlier in the session are kept; accept-all composes with them rather than
// recomputing from the pristine original.
func (s *Session) AcceptAll() {
	if s.resolved {
		return
	}
	remaining := append([]Suggestion(nil), s.pending...)
	sort.SliceStable(remaining, func(i, j int) bool { return remaining[i].Start < remaining[j].Start })
	for _, p := range remaining {
		s.apply(p)
	}
	s.pending = s.pending[:0]
	s.afterResolve()
}

// Navigate moves focus to the next (+1) or previous (-1) pending suggestion
// in ascending live order, wrapping at either end. No-op with fewer than two
// pending suggestions.
func (s *Session) Navigate(dir int) {
	if s.resolved || len(s.pending) < 2 {
		return
	}
	idx := s.pendingIndex(s.activeID)
	if idx < 0 {
		idx = 0
	}
	next := (idx + dir + len(s.pending)) % len(s.pending)
	s.activeID = s.pending[next].ID
}

// SetActive focuses the suggestion with the given ID. Fails silently if the
// ID is not pending.
func (s *Session) SetActive(id string) {
	if s.resolved {
		return
	}
	if s.pendingIndex(id) >= 0 {
		s.activeID = id
	}
}

// Close ends the session, flushing the live text to the finish callback even
// if suggestions remain pending. Nothing fires when the preview never
// diverged from the original.
func (s *Session) Close() {
	if s.resolved {
		return
	}
	s.resolved = true
	s.activeID = ""
	s.finishIfChanged()
}

// apply performs the live-text substitution for one pending suggestion and
// appends its ledger entry keyed by original coordinates.
func (s *Session) apply(p Suggestion) {
	start := Remap(p.Start, s.ledger)
	end := Remap(p.End, s.ledger)
	if start < 0 || end > len(s.live) || start > end {
		return
	}
	replacement := []rune(p.Replacement)

	next := make([]rune, 0, len(s.live)+len(replacement)-(end-start))
	next = append(next, s.live[:start]...)
	next = append(next, replacement...)
	next = append(next, s.live[end:]...)
	s.live = next

	s.ledger = append(s.ledger, AcceptedEdit{
		Start:   p.Start,
		End:     p.End,
		Delta:   len(replacement) - (p.End - p.Start),
		NewText: p.Replacement,
	})
}

// afterResolve restores the auto-selection invariant and transitions to
// resolved once the pending set empties.
func (s *Session) afterResolve() {
	if len(s.pending) == 0 {
		s.resolved = true
		s.activeID = ""
		s.finishIfChanged()
		return
	}
	s.ensureActive()
}

// finishIfChanged reports the final live text only when something was
// actually applied; an all-rejections pass commits nothing.
func (s *Session) finishIfChanged() {
	if s.cb.OnFinish == nil {
		return
	}
	if string(s.live) == string(s.orig) {
		return
	}
	s.cb.OnFinish(string(s.live))
}

func (s *Session) pendingIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, p := range s.pending {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ensureActive keeps a suggestion selected whenever any remain: if the active
// ID no longer references a pending suggestion, focus moves to the first in
// ascending order.
func (s *Session) ensureActive() {
	if len(s.pending) == 0 {
		s.activeID = ""
		return
	}
	if s.pendingIndex(s.activeID) >= 0 {
		return
	}
	s.activeID = s.pending[0].ID
}
