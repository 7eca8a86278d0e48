package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"roomgate/cmd/internal/admission"
	"roomgate/cmd/internal/credential"
)

// Handler serves admission, liveness, release, sweep and admin routes.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	now  func() time.Time
	ctrl *admission.Controller
	rpr  *admission.Reaper
	iss  *credential.Issuer

	admissions *KeyedLimiter
}

// HandlerOption configures Handler.
type HandlerOption func(*Handler)

// WithClock overrides the time source used for credentials and rate limiting.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler wires the HTTP surface to the admission controller, reaper and credential issuer.
func NewHandler(log *slog.Logger, cfg Config, ctrl *admission.Controller, rpr *admission.Reaper, iss *credential.Issuer, opts ...HandlerOption) (*Handler, error) {
	if ctrl == nil || rpr == nil || iss == nil {
		return nil, errors.New("gateway: controller, reaper and issuer are required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	h := &Handler{
		log:        log,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		ctrl:       ctrl,
		rpr:        rpr,
		iss:        iss,
		admissions: NewKeyedLimiter(cfg.AdmissionRateEvents, cfg.AdmissionRateWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/connection-details", h.handleConnectionDetails)
	mux.HandleFunc("/api/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("/api/leave", h.handleLeave)
	mux.HandleFunc("/api/health", h.handleSweep)

	mux.HandleFunc("/api/admin/codes", h.requireAdmin(h.handleAdminCodes))
	mux.HandleFunc("/api/admin/codes/stats", h.requireAdmin(h.handleAdminStats))
	mux.HandleFunc("/api/admin/codes/assign", h.requireAdmin(h.handleAdminAssign))
}

// ---- handlers ----

func (h *Handler) handleConnectionDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	room := strings.TrimSpace(q.Get("roomName"))
	name := strings.TrimSpace(q.Get("participantName"))
	code := strings.TrimSpace(q.Get("authCode"))
	switch {
	case room == "":
		writeError(w, http.StatusBadRequest, "missing_room", "roomName is required")
		return
	case name == "":
		writeError(w, http.StatusBadRequest, "missing_participant", "participantName is required")
		return
	case code == "":
		writeError(w, http.StatusUnauthorized, "missing_code", "authCode is required")
		return
	}

	now := h.now()
	key := "unknown"
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		key = ip.String()
	}
	if ok, retry := h.admissions.Allow(key, now); !ok {
		h.log.Warn("gateway.admission.throttle", "ip", key)
		writeRateLimited(w, retry)
		return
	}

	d, err := h.ctrl.Admit(r.Context(), code, room)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}

	grant, err := h.iss.Issue(name, d.Room, now)
	if err != nil {
		h.log.Error("gateway.credential.issue.fail", "err", err, "room", d.Room)
		if !d.AlreadyBound {
			// Nobody will use this bind; free it now instead of waiting for the lease timeout.
			if relErr := h.ctrl.Release(context.WithoutCancel(r.Context()), d.Code); relErr != nil {
				h.log.Error("gateway.credential.release.fail", "err", relErr)
			}
		}
		writeError(w, http.StatusInternalServerError, "credential_failed", "could not issue credentials")
		return
	}

	resp := connectionDetailsResponse{
		ServerURL:        grant.Primary.URL,
		ParticipantToken: grant.Primary.Token,
		ParticipantName:  name,
		RoomName:         d.Room,
	}
	if grant.Fallback != nil {
		resp.FallbackServerURL = grant.Fallback.URL
		resp.FallbackParticipantToken = grant.Fallback.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	var conflict *admission.RoomConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: apiError{
			Code:    "room_conflict",
			Message: conflict.Error(),
			Room:    conflict.Room,
		}})
	case errors.Is(err, admission.ErrCodeNotFound):
		writeError(w, http.StatusUnauthorized, "code_not_found", admission.ErrCodeNotFound.Error())
	case errors.Is(err, admission.ErrNotActivated):
		writeError(w, http.StatusUnauthorized, "not_activated", admission.ErrNotActivated.Error())
	case errors.Is(err, admission.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid roomName or authCode")
	default:
		writeError(w, http.StatusServiceUnavailable, "server_busy", "server busy, try again shortly")
	}
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := h.codeFromRequest(w, r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "auth_code is required")
		return
	}
	if err := h.ctrl.Renew(r.Context(), code); err != nil {
		h.log.Warn("gateway.heartbeat.fail", "err", err)
	}
	writeOK(w)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := h.codeFromRequest(w, r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "auth_code is required")
		return
	}
	// The sender may already be gone; finish the release even if the request context ends.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := h.ctrl.Release(ctx, code); err != nil {
		h.log.Warn("gateway.leave.fail", "err", err)
	}
	writeOK(w)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := h.rpr.Sweep(r.Context())
	out := healthResponse{
		Status:    "ok",
		Timestamp: h.now(),
		Cleanup: sweepCounts{
			ReclaimedLeases: res.ReclaimedLeases,
			DeletedCodes:    res.DeletedCodes,
		},
	}
	if err != nil {
		h.log.Error("gateway.sweep.fail", "err", err)
		out.Cleanup.Error = admission.ErrStoreUnavailable.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// codeFromRequest reads the code from ?authCode=, or from a JSON body {"auth_code": "..."} on POST.
func (h *Handler) codeFromRequest(w http.ResponseWriter, r *http.Request) string {
	if code := strings.TrimSpace(r.URL.Query().Get("authCode")); code != "" {
		return code
	}
	if r.Method != http.MethodPost {
		return ""
	}
	var req codeRequest
	if err := decodeJSONLenient(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		return ""
	}
	return req.code()
}
