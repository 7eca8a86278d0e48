package gateway

import (
	"strings"
	"time"

	"roomgate/cmd/internal/lease"
)

type statusResponse struct {
	Status string `json:"status"`
}

type connectionDetailsResponse struct {
	ServerURL                string `json:"server_url"`
	ParticipantToken         string `json:"participant_token"`
	ParticipantName          string `json:"participant_name"`
	RoomName                 string `json:"room_name"`
	FallbackServerURL        string `json:"fallback_server_url,omitempty"`
	FallbackParticipantToken string `json:"fallback_participant_token,omitempty"`
}

// codeRequest accepts both spellings; browser beacons send authCode.
type codeRequest struct {
	AuthCode      string `json:"auth_code"`
	AuthCodeCamel string `json:"authCode"`
}

func (r codeRequest) code() string {
	if c := strings.TrimSpace(r.AuthCode); c != "" {
		return c
	}
	return strings.TrimSpace(r.AuthCodeCamel)
}

type sweepCounts struct {
	ReclaimedLeases int64  `json:"reclaimed_leases"`
	DeletedCodes    int64  `json:"deleted_codes"`
	Error           string `json:"error,omitempty"`
}

type healthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Cleanup   sweepCounts `json:"cleanup"`
}

type createCodeRequest struct {
	Code           string `json:"code,omitempty"`
	HolderID       *int64 `json:"holder_id,omitempty"`
	ExpiresMinutes int    `json:"expires_minutes,omitempty"`
	Note           string `json:"note,omitempty"`
}

type assignCodeRequest struct {
	Code     string `json:"code"`
	HolderID *int64 `json:"holder_id"`
}

type codeView struct {
	Code           string     `json:"code"`
	Status         string     `json:"status"`
	AssignedTo     *int64     `json:"assigned_to,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ExpiresMinutes int        `json:"expires_minutes"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	InUse          bool       `json:"in_use"`
	InUseSince     *time.Time `json:"in_use_since,omitempty"`
	BoundRoom      *string    `json:"bound_room,omitempty"`
	Note           *string    `json:"note,omitempty"`
}

type codeResponse struct {
	Code codeView `json:"code"`
}

type codesResponse struct {
	Codes []codeView `json:"codes"`
}

type statsResponse struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Assigned  int64 `json:"assigned"`
	InUse     int64 `json:"in_use"`
}

func toCodeView(c lease.AuthCode) codeView {
	v := codeView{
		Code:           c.Code,
		Status:         string(c.Status),
		AssignedTo:     c.AssignedTo,
		CreatedAt:      c.CreatedAt,
		AssignedAt:     c.AssignedAt,
		ExpiresMinutes: c.ExpiresMinutes,
		InUse:          c.InUse,
		InUseSince:     c.InUseSince,
		BoundRoom:      c.BoundRoom,
		Note:           c.Note,
	}
	if exp, ok := c.ExpiresAt(); ok {
		v.ExpiresAt = &exp
	}
	return v
}

func toCodeViews(in []lease.AuthCode) []codeView {
	out := make([]codeView, 0, len(in))
	for _, c := range in {
		out = append(out, toCodeView(c))
	}
	return out
}
