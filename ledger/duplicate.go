package ledger

import "strings"

// IsDuplicate reports whether a manual candidate repeats an existing manual
// entry: same date, same kind, exactly the same amount, and the same
// category ignoring case. Automatic and forecast entries are never
// duplicates; automation is guarded by AutomationRun instead.
func IsDuplicate(candidate Entry, existing []Entry) (Entry, bool) {
	if candidate.Origin != OriginManual {
		return Entry{}, false
	}
	category := strings.TrimSpace(candidate.Category)
	for _, e := range existing {
		if e.Origin != OriginManual || e.OwnerID != candidate.OwnerID {
			continue
		}
		// an edited entry never duplicates itself
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		if e.Date.Equal(candidate.Date) &&
			e.Kind == candidate.Kind &&
			e.Amount.Equal(candidate.Amount) &&
			strings.EqualFold(strings.TrimSpace(e.Category), category) {
			return e, true
		}
	}
	return Entry{}, false
}
