// Package identity decides whether two fetched updates describe the same
// upstream event.
//
// Numeric and hash identifiers are authoritative: titles repeat legitimately
// (a retitled PR, two releases sharing a name) while SHAs and issue numbers
// do not. For GitHub kinds, once both payloads are present the identifier
// decides alone and a missing one means "not the same". Title and date are
// only compared when a payload is absent.
//
// Feed entries are matched on the Hacker News item id, then the entry guid,
// and only then on title and date, since an undated entry is stamped with
// its fetch time.
package identity

import (
	"activity-sync/internal/model"
)

// IsDuplicate reports whether candidate represents the same event as existing.
func IsDuplicate(existing, candidate model.Update) bool {
	if existing.SourceID != candidate.SourceID || existing.EventType != candidate.EventType {
		return false
	}

	a, b := existing.AdditionalData, candidate.AdditionalData
	if a != nil && b != nil {
		switch {
		case existing.EventType == model.EventCommit:
			same, _ := compareString(a, b, model.DataSHA)
			return same
		case existing.EventType.IsIssueOrPullRequest():
			same, _ := compareInt(a, b, model.DataNumber)
			return same
		case existing.EventType == model.EventRelease:
			if same, ok := compareInt(a, b, model.DataID); ok {
				return same
			}
			same, _ := compareString(a, b, model.DataTagName)
			return same
		default:
			if same, ok := compareString(a, b, model.DataItemID); ok {
				return same
			}
			if same, ok := compareString(a, b, model.DataGUID); ok {
				return same
			}
		}
	}

	return existing.Title == candidate.Title && existing.EventDate.Equal(candidate.EventDate)
}

// FindDuplicate returns the first update in existing that candidate duplicates.
func FindDuplicate(existing []model.Update, candidate model.Update) (model.Update, bool) {
	for _, u := range existing {
		if IsDuplicate(u, candidate) {
			return u, true
		}
	}
	return model.Update{}, false
}

// compareString reports equality of key when both payloads carry it.
func compareString(a, b model.AdditionalData, key string) (same, ok bool) {
	x, okA := a.String(key)
	y, okB := b.String(key)
	if !okA || !okB {
		return false, false
	}
	return x == y, true
}

func compareInt(a, b model.AdditionalData, key string) (same, ok bool) {
	x, okA := a.Int(key)
	y, okB := b.Int(key)
	if !okA || !okB {
		return false, false
	}
	return x == y, true
}
