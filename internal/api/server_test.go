package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"easytrip/internal/booking"
	"easytrip/internal/database"
	"easytrip/internal/eligibility"
	"easytrip/internal/events"
	"easytrip/internal/models"
	"easytrip/internal/session"
)

type testServer struct {
	*httptest.Server
	db  *database.DB
	api *Server
}

// testRules disables the maintenance window so results do not depend on
// the hour the tests run at.
func testRules() eligibility.Rules {
	r := eligibility.DefaultRules()
	r.MaintenanceStartHour = 0
	r.MaintenanceEndHour = 0
	return r
}

func setupTestServer(t *testing.T, limits RateConfig, checks map[string]ReadyCheck) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "easytrip.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := booking.NewService(db, db, db, eligibility.NewRuleSet(testRules()), events.NewEventBus(&logger), &logger)
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour, &logger)
	api := NewServer(svc, sessions, limits, checks, &logger)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, db: db, api: api}
}

func (ts *testServer) journey(t *testing.T, departIn time.Duration) *models.Journey {
	t.Helper()
	dep := time.Now().UTC().Add(departIn).Truncate(time.Second)
	j := &models.Journey{
		BusID: "KA-01-1234", From: "Bengaluru", To: "Mysuru",
		Departure: dep, Arrival: dep.Add(3 * time.Hour), Fare: 45000, SeatCount: 4,
	}
	require.NoError(t, ts.db.CreateJourney(context.Background(), j))
	return j
}

func (ts *testServer) seatIDs(t *testing.T, journeyID int64) []int64 {
	t.Helper()
	seats, err := ts.db.FindSeats(context.Background(), "journey_id", strconv.FormatInt(journeyID, 10))
	require.NoError(t, err)
	ids := make([]int64, len(seats))
	for i, s := range seats {
		ids[i] = s.ID
	}
	return ids
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) login(t *testing.T, userID string, role session.Role) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/sessions", "", map[string]any{"user_id": userID, "role": role})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sess session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	return sess.Token
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func reserveBody(seatIDs ...int64) map[string]any {
	passengers := make([]map[string]any, len(seatIDs))
	for i := range seatIDs {
		passengers[i] = map[string]any{"name": "Pat Doe", "age": 30, "gender": "other"}
	}
	return map[string]any{
		"seat_ids":   seatIDs,
		"passengers": passengers,
		"contact":    map[string]any{"email": "pat@example.com", "phone": "+91 98765 43210"},
	}
}

func TestStatusAndSeats(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	j := ts.journey(t, 3*time.Hour)

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/api/journeys/%d/status", j.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[eligibility.Status](t, resp)
	assert.True(t, st.IsBookingOpen)
	assert.Equal(t, eligibility.BusScheduled, st.BusStatus)
	assert.Equal(t, eligibility.ReasonOpen, st.ReasonCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/journeys/%d/seats", j.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[booking.SeatMap](t, resp)
	assert.Len(t, m.Seats, 4)
	for _, seat := range m.Seats {
		assert.True(t, seat.Clickable)
	}
}

func TestRequestErrors(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	j := ts.journey(t, 3*time.Hour)
	token := ts.login(t, "traveller-1", session.RoleCustomer)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       any
		wantStatus int
		wantError  string
	}{
		{"unknown journey", http.MethodGet, "/api/journeys/999/status", "", nil, http.StatusNotFound, ""},
		{"bad journey id", http.MethodGet, "/api/journeys/abc/status", "", nil, http.StatusBadRequest, `invalid journey id "abc"`},
		{"search needs origin", http.MethodGet, "/api/journeys?to=Mysuru", "", nil, http.StatusBadRequest, "from: is required"},
		{"search bad date", http.MethodGet, "/api/journeys?from=Bengaluru&date=15-01-2025", "", nil, http.StatusBadRequest, "date: must be YYYY-MM-DD"},
		{"reserve without token", http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), "", reserveBody(1), http.StatusUnauthorized, "missing bearer token"},
		{"reserve with unknown token", http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), "nope", reserveBody(1), http.StatusUnauthorized, "invalid or expired session"},
		{"unknown field", http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), token, `{"seat_ids":[1],"extra":true}`, http.StatusBadRequest, "invalid JSON body"},
		{"malformed body", http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), token, `{`, http.StatusBadRequest, "invalid JSON body"},
		{"customer cannot schedule", http.MethodPost, "/api/journeys", token, map[string]any{"bus_id": "X"}, http.StatusForbidden, "operator access required"},
		{"customer cannot export", http.MethodGet, fmt.Sprintf("/api/journeys/%d/manifest.xlsx", j.ID), token, nil, http.StatusForbidden, ""},
		{"unknown booking", http.MethodPost, "/api/bookings/missing/cancel", token, nil, http.StatusNotFound, ""},
		{"bad role", http.MethodPost, "/api/sessions", "", map[string]any{"user_id": "x", "role": "pilot"}, http.StatusBadRequest, ""},
		{"wrong method", http.MethodPut, "/api/journeys", "", nil, http.StatusMethodNotAllowed, "method not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func TestBookingFlow(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	j := ts.journey(t, 3*time.Hour)
	seats := ts.seatIDs(t, j.ID)
	customer := ts.login(t, "traveller-1", session.RoleCustomer)
	other := ts.login(t, "traveller-2", session.RoleCustomer)
	operator := ts.login(t, "ops-1", session.RoleOperator)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), customer, reserveBody(seats[0], seats[1]))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	b := decode[models.Booking](t, resp)
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, int64(90000), b.Total)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), other, reserveBody(seats[1]))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/bookings", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decode[map[string][]models.Booking](t, resp)
	require.Len(t, mine["bookings"], 1)
	assert.Equal(t, b.ID, mine["bookings"][0].ID)

	resp = ts.do(t, http.MethodGet, "/api/bookings", other, nil)
	assert.Empty(t, decode[map[string][]models.Booking](t, resp)["bookings"])

	resp = ts.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/confirm", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/cancel", other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/confirm", operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BookingConfirmed, decode[models.Booking](t, resp).Status)

	resp = ts.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/confirm", operator, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/journeys/%d/seats", j.ID), "", nil)
	m := decode[booking.SeatMap](t, resp)
	assert.Equal(t, eligibility.StyleSold, m.Seats[0].Style)
	assert.False(t, m.Seats[0].Clickable)

	resp = ts.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/cancel", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BookingCancelled, decode[models.Booking](t, resp).Status)

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), other, reserveBody(seats[1]))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestReserveClosedDuringBoarding(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	j := ts.journey(t, 10*time.Minute)
	seats := ts.seatIDs(t, j.ID)
	token := ts.login(t, "traveller-1", session.RoleCustomer)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), token, reserveBody(seats[0]))
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, string(eligibility.ReasonCutoffReached), body["reason"])
	assert.Contains(t, body["error"], "30 minutes before departure")
}

func TestSearch(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	j := ts.journey(t, 3*time.Hour)

	resp := ts.do(t, http.MethodGet, "/api/journeys?from=bengaluru&to=MYSURU&date="+j.Departure.Format("2006-01-02"), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[map[string][]booking.SearchResult](t, resp)["journeys"]
	require.Len(t, found, 1)
	assert.Equal(t, j.ID, found[0].Journey.ID)
	assert.True(t, found[0].Status.IsBookingOpen)

	resp = ts.do(t, http.MethodGet, "/api/journeys?from=Chennai", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[map[string][]booking.SearchResult](t, resp)["journeys"])
}

func TestOperatorJourneys(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	operator := ts.login(t, "ops-1", session.RoleOperator)
	dep := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Minute)

	resp := ts.do(t, http.MethodPost, "/api/journeys", operator, map[string]any{
		"bus_id": "TN-09", "from": "Chennai", "to": "Pondicherry",
		"departure": dep.Format(time.RFC3339), "arrival": dep.Add(3 * time.Hour).Format(time.RFC3339),
		"fare": 30000, "seat_count": 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	j := decode[models.Journey](t, resp)
	assert.Equal(t, 3, j.SeatCount)
	assert.Len(t, ts.seatIDs(t, j.ID), 3)

	newDep := dep.Add(time.Hour)
	resp = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/journeys/%d", j.ID), operator, map[string]any{
		"departure": newDep.Format(time.RFC3339), "arrival": newDep.Add(3 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.Journey](t, resp).Departure.Equal(newDep))

	resp = ts.do(t, http.MethodPatch, "/api/journeys/999", operator, map[string]any{
		"departure": newDep.Format(time.RFC3339), "arrival": newDep.Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManifestDownload(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	j := ts.journey(t, 3*time.Hour)
	seats := ts.seatIDs(t, j.ID)
	customer := ts.login(t, "traveller-1", session.RoleCustomer)
	operator := ts.login(t, "ops-1", session.RoleAdmin)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), customer, reserveBody(seats[2]))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/journeys/%d/manifest.xlsx", j.ID), operator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), fmt.Sprintf("journey_%d_manifest.xlsx", j.ID))

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Passengers")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[1], "Pat Doe")
}

func TestLogout(t *testing.T) {
	ts := setupTestServer(t, RateConfig{}, nil)
	token := ts.login(t, "traveller-1", "")

	resp := ts.do(t, http.MethodGet, "/api/bookings", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/sessions", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/bookings", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWriteRateLimit(t *testing.T) {
	ts := setupTestServer(t, RateConfig{RequestsPerMinute: 1, Burst: 2}, nil)
	j := ts.journey(t, 3*time.Hour)
	token := ts.login(t, "traveller-1", session.RoleCustomer)
	other := ts.login(t, "traveller-2", session.RoleCustomer)
	path := fmt.Sprintf("/api/journeys/%d/bookings", j.ID)

	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodPost, path, token, `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp := ts.do(t, http.MethodPost, path, token, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Reads and other sessions are not throttled.
	resp = ts.do(t, http.MethodGet, "/api/bookings", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, path, other, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (l *writeLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perToken)
}

func TestWriteLimiterSweepsIdleTokens(t *testing.T) {
	l := newWriteLimiter(RateConfig{RequestsPerMinute: 60, Burst: 2})
	require.Equal(t, time.Minute, l.idle)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("expired"))
	assert.True(t, l.allow("active"))
	assert.True(t, l.allow("active"))
	assert.False(t, l.allow("active"))
	assert.Equal(t, 2, l.tracked())

	now = now.Add(30 * time.Second)
	assert.True(t, l.allow("active"))
	assert.Equal(t, 2, l.tracked())

	now = now.Add(35 * time.Second)
	assert.True(t, l.allow("active"))
	assert.Equal(t, 1, l.tracked(), "idle token swept")

	l.forget("active")
	assert.Zero(t, l.tracked())

	assert.Equal(t, 2*time.Minute, newWriteLimiter(RateConfig{RequestsPerMinute: 60, Burst: 120}).idle)
	assert.Equal(t, time.Minute, newWriteLimiter(RateConfig{}).idle)
}

func TestUnknownTokenDropsLimiter(t *testing.T) {
	ts := setupTestServer(t, RateConfig{RequestsPerMinute: 1, Burst: 1}, nil)
	token := ts.login(t, "traveller-1", session.RoleCustomer)
	j := ts.journey(t, 3*time.Hour)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/journeys/%d/bookings", j.ID), token, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	ts.api.limits.allow("stale-token")
	assert.Equal(t, 2, ts.api.limits.tracked())

	resp = ts.do(t, http.MethodGet, "/api/bookings", "stale-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, ts.api.limits.tracked())
}

func TestHealth(t *testing.T) {
	failing := errors.New("connection refused")
	ts := setupTestServer(t, RateConfig{}, map[string]ReadyCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return failing },
	})

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "connection refused", body["redis"])

	rec := httptest.NewRecorder()
	HealthHandler(map[string]ReadyCheck{"database": func(context.Context) error { return nil }}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","database":"ok"}`, rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", tt.header)
		assert.Equal(t, tt.want, bearerToken(r), tt.header)
	}
}
