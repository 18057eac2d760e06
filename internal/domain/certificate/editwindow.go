package certificate

import (
	"math"
	"time"
)

// EditWindow is how long a submitted certificate stays editable.
const EditWindow = 5 * 24 * time.Hour

const day = 24 * time.Hour

// IsEditable reports whether a certificate may still be changed at now: a
// draft always, a submitted certificate strictly before its window expires.
func IsEditable(status Status, expiresAt *time.Time, now time.Time) bool {
	switch status {
	case StatusDraft:
		return true
	case StatusSubmitted:
		return expiresAt != nil && now.Before(*expiresAt)
	}
	return false
}

// DaysRemaining returns the whole days left in the edit window, rounded up
// and never negative. It is nil unless the certificate is submitted with a
// known expiry.
func DaysRemaining(status Status, expiresAt *time.Time, now time.Time) *int {
	if status != StatusSubmitted || expiresAt == nil || expiresAt.IsZero() {
		return nil
	}
	days := int(math.Ceil(float64(expiresAt.Sub(now)) / float64(day)))
	if days < 0 {
		days = 0
	}
	return &days
}

// WindowExpiry is the edit-window expiry for a submission at submittedAt.
func WindowExpiry(submittedAt time.Time) time.Time {
	return submittedAt.Add(EditWindow)
}
