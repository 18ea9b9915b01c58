package review

// AcceptedEdit is one entry in the ledger of applied replacements. Start and
// End are original-text rune offsets; Delta is the rune-length change the
// replacement introduced. The ledger is append-only and ordered by acceptance.
type AcceptedEdit struct {
	Start   int
	End     int
	Delta   int
	NewText string
}

// Remap translates an original-text offset into the coordinate space of the
// live text after every edit in the ledger. Positions inside a replaced span
// snap to the end of the inserted replacement.
func Remap(pos int, ledger []AcceptedEdit) int {
	mapped := pos
	for _, edit := range ledger {
		switch {
		case pos <= edit.Start:
			// unaffected
		case pos > edit.End:
			mapped += edit.Delta
		default:
			mapped = edit.Start + len([]rune(edit.NewText))
		}
	}
	return mapped
}
