package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roomgate/cmd/internal/admission"
	"roomgate/cmd/internal/lease"
	"roomgate/cmd/security/token"
)

// requireAdmin checks X-API-Key (or ?apiKey=) when an admin key is configured.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminAPIKey != "" {
			given := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if given == "" {
				given = strings.TrimSpace(r.URL.Query().Get("apiKey"))
			}
			if !token.Equal(given, h.cfg.AdminAPIKey) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) handleAdminCodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleAdminCreate(w, r)
	case http.MethodGet:
		h.handleAdminList(w, r)
	case http.MethodDelete:
		h.handleAdminDelete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	out, err := h.ctrl.CreateCode(r.Context(), admission.CreateInput{
		Code:           req.Code,
		HolderID:       req.HolderID,
		ExpiresMinutes: req.ExpiresMinutes,
		Note:           req.Note,
	})
	if err != nil {
		h.writeAdminError(w, "admin.code.create.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, codeResponse{Code: toCodeView(out)})
}

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		codes []lease.AuthCode
		err   error
	)
	if raw := strings.TrimSpace(q.Get("holder_id")); raw != "" {
		holder, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_holder", "holder_id must be an integer")
			return
		}
		codes, err = h.ctrl.CodesForHolder(r.Context(), holder)
	} else {
		codes, err = h.ctrl.ListCodes(r.Context(), limit)
	}
	if err != nil {
		h.writeAdminError(w, "admin.code.list.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, codesResponse{Codes: toCodeViews(codes)})
}

func (h *Handler) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "code is required")
		return
	}
	if err := h.ctrl.DeleteCode(r.Context(), code); err != nil {
		h.writeAdminError(w, "admin.code.delete.fail", err)
		return
	}
	writeOK(w)
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, err := h.ctrl.Stats(r.Context())
	if err != nil {
		h.writeAdminError(w, "admin.code.stats.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Total:     st.Total,
		Available: st.Available,
		Assigned:  st.Assigned,
		InUse:     st.InUse,
	})
}

func (h *Handler) handleAdminAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req assignCodeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" || req.HolderID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "code and holder_id are required")
		return
	}
	out, err := h.ctrl.Assign(r.Context(), req.Code, *req.HolderID)
	if err != nil {
		h.writeAdminError(w, "admin.code.assign.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{Code: toCodeView(out)})
}

func (h *Handler) writeAdminError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, admission.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case errors.Is(err, admission.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "code_not_found", "auth code not found")
	case errors.Is(err, lease.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate_code", "auth code already exists")
	case errors.Is(err, lease.ErrNotAvailable):
		writeError(w, http.StatusConflict, "not_available", "auth code already assigned")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "server busy, try again shortly")
	}
}
