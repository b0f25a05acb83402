package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"easytrip/internal/booking"
	"easytrip/internal/domain"
	"easytrip/internal/models"
	"easytrip/internal/report"
	"easytrip/internal/session"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type loginRequest struct {
	UserID string       `json:"user_id"`
	Role   session.Role `json:"role"`
}

// handleLogin opens a session for the asserted identity.
// POST /api/sessions
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.sessions.Login(r.Context(), req.UserID, req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// DELETE /api/sessions
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, _ := session.FromContext(r.Context())
	if err := s.sessions.Logout(r.Context(), sess.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.limits.forget(sess.Token)
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch lists journeys for a route.
// GET /api/journeys?from=&to=&date=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	results, err := s.svc.Search(r.Context(), q.Get("from"), q.Get("to"), q.Get("date"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journeys": results})
}

// POST /api/journeys
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, _ := session.FromContext(r.Context())
	var req booking.ScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	j, err := s.svc.ScheduleJourney(r.Context(), sess, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// PATCH /api/journeys/:id
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, _ := session.FromContext(r.Context())
	id, err := idParam(ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req booking.RescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	j, err := s.svc.Reschedule(r.Context(), sess, id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleStatus returns the booking status a seat UI renders.
// GET /api/journeys/:id/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := idParam(ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_, st, err := s.svc.Status(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /api/journeys/:id/seats
func (s *Server) handleSeats(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := idParam(ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.svc.SeatMap(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// POST /api/journeys/:id/bookings
func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, _ := session.FromContext(r.Context())
	id, err := idParam(ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req booking.ReserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.svc.Reserve(r.Context(), sess, id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GET /api/journeys/:id/manifest.xlsx
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, _ := session.FromContext(r.Context())
	id, err := idParam(ps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.svc.Manifest(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteManifest(&buf, *m); err != nil {
		s.fail(w, r, fmt.Errorf("render manifest: %w", err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="journey_%d_manifest.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GET /api/bookings
func (s *Server) handleMyBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, _ := session.FromContext(r.Context())
	list, err := s.svc.MyBookings(r.Context(), sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

// POST /api/bookings/:id/confirm
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.decide(w, r, ps, s.svc.Confirm)
}

// POST /api/bookings/:id/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.decide(w, r, ps, s.svc.Cancel)
}

type bookingAction func(ctx context.Context, sess *session.Session, bookingID string) (*models.Booking, error)

func (s *Server) decide(w http.ResponseWriter, r *http.Request, ps httprouter.Params, action bookingAction) {
	sess, _ := session.FromContext(r.Context())
	id := ps.ByName("id")
	if id == "" {
		s.fail(w, r, domain.ValidationError{Field: "id", Msg: "is required"})
		return
	}
	b, err := action(r.Context(), sess, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status, body := runChecks(r, s.checks)
	writeJSON(w, status, body)
}
