package lease

import (
	"testing"
	"time"
)

func TestAuthCode_LeaseExpired(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	room := "room-x"
	bound := AuthCode{InUse: true, InUseSince: &since, BoundRoom: &room}

	tests := []struct {
		name string
		code AuthCode
		now  time.Time
		want bool
	}{
		{"unbound", AuthCode{}, since.Add(time.Hour), false},
		{"fresh", bound, since.Add(299 * time.Second), false},
		{"exactly_timeout", bound, since.Add(300 * time.Second), true},
		{"past_timeout", bound, since.Add(301 * time.Second), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.code.LeaseExpired(tt.now, 300*time.Second); got != tt.want {
				t.Fatalf("LeaseExpired=%v want %v", got, tt.want)
			}
		})
	}
}

func TestAuthCode_ExpiresAt(t *testing.T) {
	t.Parallel()

	if _, ok := (AuthCode{ExpiresMinutes: 10}).ExpiresAt(); ok {
		t.Fatalf("unassigned code must not have an expiry")
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := AuthCode{AssignedAt: &at, ExpiresMinutes: DefaultExpiresMinutes}.ExpiresAt()
	if !ok || !got.Equal(at.Add(24*time.Hour)) {
		t.Fatalf("unexpected expiry: %v %v", got, ok)
	}
}

func TestAuthCode_Consistent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	room := "r"
	cases := []struct {
		code AuthCode
		want bool
	}{
		{AuthCode{}, true},
		{AuthCode{InUse: true, InUseSince: &now, BoundRoom: &room}, true},
		{AuthCode{InUse: true, BoundRoom: &room}, false},
		{AuthCode{InUse: false, BoundRoom: &room}, false},
		{AuthCode{InUse: false, InUseSince: &now}, false},
	}
	for i, tc := range cases {
		if got := tc.code.Consistent(); got != tc.want {
			t.Fatalf("case %d: Consistent=%v want %v", i, got, tc.want)
		}
	}
}
