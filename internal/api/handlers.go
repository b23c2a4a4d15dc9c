package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"yoyaku/internal/domain"
	"yoyaku/internal/service"
)

const maxBodyBytes = 64 << 10

var errEmptyBody = domain.NewValidationError("body", "is required")

type reservationIDRequest struct {
	ReservationID string `json:"reservationId"`
}

type createResponse struct {
	ReservationID string `json:"reservationId"`
	Price         int    `json:"price"`
	Status        string `json:"status"`
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.svc.Slots(r.Context(), strings.TrimSpace(q.Get("date")), strings.TrimSpace(q.Get("course")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req service.QuoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.svc.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		ReservationID: res.ID,
		Price:         res.Price,
		Status:        res.Status,
	})
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, err := reservationIDFrom(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Confirm(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleDeny(w http.ResponseWriter, r *http.Request) {
	id, err := reservationIDFrom(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Deny(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleConfirmLink(w http.ResponseWriter, r *http.Request) {
	_, err := s.svc.Confirm(r.Context(), r.URL.Query().Get("id"))
	s.writeLinkResult(w, r, err, msgConfirmed)
}

func (s *HTTPServer) handleDenyLink(w http.ResponseWriter, r *http.Request) {
	_, err := s.svc.Deny(r.Context(), r.URL.Query().Get("id"))
	s.writeLinkResult(w, r, err, msgDenied)
}

func (s *HTTPServer) writeLinkResult(w http.ResponseWriter, r *http.Request, err error, success string) {
	if err != nil {
		status := statusFor(err)
		s.logRequestError(r, status, err)
		writePage(w, status, pageMessage(err))
		return
	}
	writePage(w, http.StatusOK, success)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.PingContext(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reservationIDFrom reads reservationId from the JSON body, falling back to
// the id query parameter when the body is empty or omits it.
func reservationIDFrom(w http.ResponseWriter, r *http.Request) (string, error) {
	query := r.URL.Query().Get("id")
	var req reservationIDRequest
	if err := decodeBody(w, r, &req); err != nil {
		if query != "" && errors.Is(err, errEmptyBody) {
			return query, nil
		}
		return "", err
	}
	if req.ReservationID == "" {
		return query, nil
	}
	return req.ReservationID, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return domain.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrCouponUsed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logRequestError(r, status, err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  domain.ErrorCode(err),
	})
}

func (s *HTTPServer) logRequestError(r *http.Request, status int, err error) {
	ev := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("request_id", requestIDFrom(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
