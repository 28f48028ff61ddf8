package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/raakeshmj/campusguard/internal/auth"
	"github.com/raakeshmj/campusguard/internal/consent"
	"github.com/raakeshmj/campusguard/internal/firewall"
	"github.com/raakeshmj/campusguard/internal/repository"
	"github.com/raakeshmj/campusguard/internal/service"
)

type loginEventRequest struct {
	UserID  string `json:"user_id"`
	Account string `json:"account"`
	Success bool   `json:"success"`
	// Client details of the original login. Missing values fall back to
	// the reporting request.
	IP             string `json:"ip"`
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
}

// loginEvent is called by the authentication frontend after each attempt.
func (s *Server) loginEvent(w http.ResponseWriter, r *http.Request) {
	var req loginEventRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return
	}
	if req.Account == "" && req.UserID == "" {
		fail(w, http.StatusBadRequest, "VALIDATION_FAILED", "user_id or account is required")
		return
	}
	if req.Success && req.UserID == "" {
		fail(w, http.StatusBadRequest, "VALIDATION_FAILED", "user_id is required for successful logins")
		return
	}

	ip := req.IP
	if ip == "" {
		ip = firewall.ClientIP(r)
	}
	h := r.Header.Clone()
	if req.UserAgent != "" {
		h.Set("User-Agent", req.UserAgent)
	}
	if req.AcceptLanguage != "" {
		h.Set("Accept-Language", req.AcceptLanguage)
	}

	res, err := s.devices.RecordLogin(r.Context(), service.LoginEvent{
		UserID:  req.UserID,
		Account: req.Account,
		Success: req.Success,
		IP:      ip,
		Header:  h,
	})
	if err != nil {
		s.log.Error("login event failed", zap.String("user_id", req.UserID), zap.Error(err))
		fail(w, http.StatusServiceUnavailable, "LOGIN_EVENT_FAILED", "Unable to record login event")
		return
	}
	respond(w, http.StatusOK, res)
}

func (s *Server) risk(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if id := auth.FromContext(r.Context()); id != nil {
		userID = id.UserID
	}
	a, err := s.devices.Assess(r.Context(), userID, firewall.ClientIP(r), r.Header)
	if err != nil {
		s.log.Error("risk assessment failed", zap.Error(err))
		fail(w, http.StatusServiceUnavailable, "RISK_UNAVAILABLE", "Unable to assess risk")
		return
	}
	respond(w, http.StatusOK, a)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	devices, err := s.devices.ListDevices(r.Context(), id.UserID)
	if err != nil {
		s.log.Error("list devices failed", zap.String("user_id", id.UserID), zap.Error(err))
		fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to list devices")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"data": devices})
}

func (s *Server) revokeDevice(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	d, err := s.devices.RevokeDevice(r.Context(), id.UserID, chi.URLParam(r, "hash"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		fail(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found")
		return
	case err != nil:
		s.log.Error("revoke device failed", zap.String("user_id", id.UserID), zap.Error(err))
		fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to revoke device")
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"data": d})
}

type consentRequest struct {
	GuardianID  string     `json:"guardian_id"`
	DependentID string     `json:"dependent_id"`
	ConsentType string     `json:"consent_type"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// consentTarget resolves whose consent the caller may change. Guardians
// act for themselves; admins and staff name the guardian.
func (s *Server) consentTarget(w http.ResponseWriter, r *http.Request) (consentRequest, bool) {
	var req consentRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return req, false
	}
	id := auth.FromContext(r.Context())
	switch {
	case id.UserType == auth.UserTypeParent:
		req.GuardianID = id.UserID
	case !id.IsPrivileged():
		fail(w, http.StatusForbidden, "ROLE_REQUIRED", "Only guardians and staff may manage consent")
		return req, false
	}
	if req.GuardianID == "" || req.DependentID == "" {
		fail(w, http.StatusBadRequest, "VALIDATION_FAILED", "guardian_id and dependent_id are required")
		return req, false
	}
	return req, true
}

func (s *Server) grantConsent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.consentTarget(w, r)
	if !ok {
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		fail(w, http.StatusBadRequest, "VALIDATION_FAILED", "expires_at must be in the future")
		return
	}
	rec, err := s.consent.Grant(r.Context(), req.GuardianID, req.DependentID, req.ConsentType, req.ExpiresAt)
	if !s.consentError(w, req, err) {
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"data": rec})
}

func (s *Server) revokeConsent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.consentTarget(w, r)
	if !ok {
		return
	}
	rec, err := s.consent.Revoke(r.Context(), req.GuardianID, req.DependentID, req.ConsentType)
	if !s.consentError(w, req, err) {
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"data": rec})
}

// consentError writes the response for err and reports whether the
// handler may continue.
func (s *Server) consentError(w http.ResponseWriter, req consentRequest, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, consent.ErrConsentDenied):
		fail(w, http.StatusForbidden, "CONSENT_DENIED", "No guardian relationship for this dependent")
	default:
		s.log.Error("consent update failed",
			zap.String("guardian_id", req.GuardianID),
			zap.String("dependent_id", req.DependentID),
			zap.Error(err))
		fail(w, http.StatusServiceUnavailable, "CONSENT_UNAVAILABLE", "Consent could not be updated")
	}
	return false
}

// dependent returns the consent state a guardian holds for one dependent.
// The consent middleware has already authorized the read.
func (s *Server) dependent(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	dependentID := chi.URLParam(r, "dependentID")
	body := map[string]interface{}{
		"dependent_id": dependentID,
		"viewer_id":    id.UserID,
	}
	if id.UserType == auth.UserTypeParent {
		rec, err := s.consent.Record(r.Context(), id.UserID, dependentID, "")
		if err != nil {
			s.log.Error("consent record lookup failed", zap.String("dependent_id", dependentID), zap.Error(err))
			fail(w, http.StatusServiceUnavailable, "CONSENT_UNAVAILABLE", "Consent could not be verified")
			return
		}
		body["consent"] = rec
		body["implicit_consent"] = rec == nil
	}
	respond(w, http.StatusOK, map[string]interface{}{"data": body})
}
