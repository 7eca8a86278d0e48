package lease

import (
	"strings"
	"time"
)

// Status is the issuance state of an auth code.
type Status string

const (
	// StatusAvailable codes exist in the pool but were never issued to a holder.
	StatusAvailable Status = "available"
	// StatusAssigned codes were issued and may be bound to a room.
	StatusAssigned Status = "assigned"
)

// DefaultExpiresMinutes is the lifetime of a code counted from assignment.
const DefaultExpiresMinutes = 24 * 60

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusAssigned
}

// AuthCode mirrors one auth_code_pool row.
type AuthCode struct {
	ID             int64
	Code           string
	Status         Status
	AssignedTo     *int64
	CreatedAt      time.Time
	AssignedAt     *time.Time
	ExpiresMinutes int
	InUse          bool
	InUseSince     *time.Time
	BoundRoom      *string
	Note           *string
}

// Room returns the bound room, or "" when the code is not bound.
func (c AuthCode) Room() string {
	if c.BoundRoom == nil {
		return ""
	}
	return *c.BoundRoom
}

// LeaseExpired reports whether a bound lease has gone without renewal for at least timeout.
// Unbound codes never have an expired lease.
func (c AuthCode) LeaseExpired(now time.Time, timeout time.Duration) bool {
	if !c.InUse || c.InUseSince == nil {
		return false
	}
	return now.Sub(*c.InUseSince) >= timeout
}

// ExpiresAt returns assignedAt + expiresMinutes. ok is false for codes that were never assigned.
func (c AuthCode) ExpiresAt() (t time.Time, ok bool) {
	if c.AssignedAt == nil {
		return time.Time{}, false
	}
	return c.AssignedAt.Add(time.Duration(c.ExpiresMinutes) * time.Minute), true
}

// Consistent reports whether the lease fields agree with each other:
// InUse holds exactly when both BoundRoom and InUseSince are set.
func (c AuthCode) Consistent() bool {
	if c.InUse {
		return c.BoundRoom != nil && c.InUseSince != nil
	}
	return c.BoundRoom == nil && c.InUseSince == nil
}

// NormalizeCode trims surrounding whitespace from a user-supplied code.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
