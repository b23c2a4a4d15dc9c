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
	"testing"
	"time"

	"yoyaku/internal/config"
	"yoyaku/internal/database"
	"yoyaku/internal/domain"
	"yoyaku/internal/events"
	"yoyaku/internal/models"
	"yoyaku/internal/notify"
	"yoyaku/internal/pricing"
	"yoyaku/internal/repository"
	"yoyaku/internal/service"
	"yoyaku/internal/slots"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("JST", 9*3600)

type stubMailer struct{ sent []string }

func (m *stubMailer) Send(_ context.Context, msg *models.EmailMessage) error {
	m.sent = append(m.sent, msg.Subject)
	return nil
}

type stubCalendar struct {
	eventID string
	err     error
}

func (c *stubCalendar) CreateEvent(context.Context, *models.Reservation) (string, error) {
	return c.eventID, c.err
}

type testEnv struct {
	ts       *httptest.Server
	db       *database.DB
	mailer   *stubMailer
	calendar *stubCalendar
}

func newTestEnv(t *testing.T, apiCfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine, err := slots.NewEngine(slots.Config{
		OpenTime: "10:00", CloseTime: "23:00", StepMinutes: 15,
		PreBufferMinutes: 30, PostBufferMinutes: 30, MinLeadMinutes: 60,
		Location: jst,
	})
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2025, 6, 9, 10, 0, 0, 0, jst) }
	resolver := pricing.NewResolver(db, db, nil, true, pricing.WithClock(now), pricing.WithLocation(jst))
	cache := repository.NewMemoryCacheRepository()

	env := &testEnv{db: db, mailer: &stubMailer{}, calendar: &stubCalendar{eventID: "evt_1"}}
	orchestrator := notify.NewOrchestrator(notify.Deps{Calendar: env.calendar, Mailer: env.mailer}, notify.Settings{
		ShopName: "Luca",
		SiteURL:  "https://salon.example.com",
		AdminTo:  []string{"admin@example.com"},
	}, &logger)

	svc := service.NewReservationService(db, cache,
		repository.NewConfirmedCache(db, cache, time.Minute, &logger),
		engine, resolver, orchestrator, events.NewEventBus(),
		service.Options{VerifySlotOnCreate: true, RejectOverlapOnConfirm: true, NotifyOnCreate: true},
		&logger)
	svc.SetClock(now)

	server := NewHTTPServer(apiCfg, svc, db, &logger)
	env.ts = httptest.NewServer(server.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) createReservation(t *testing.T, start string) string {
	t.Helper()
	resp := e.postJSON(t, "/api/reservations", map[string]string{
		"date": "2025-06-10", "startTime": start, "course": "60min",
		"name": "山田太郎", "phone": "090-1234-5678", "email": "taro@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.StatusPending, body.Status)
	assert.Equal(t, 4000, body.Price)
	require.NotEmpty(t, body.ReservationID)
	return body.ReservationID
}

func decodeError(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestSlotsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp := env.get(t, "/api/slots?date=2025-06-10&course=90min")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body service.SlotsResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "2025-06-10", body.Date)
	assert.Equal(t, "90min", body.Course)
	assert.Equal(t, "10:00", body.Slots[0])
	assert.Equal(t, "21:30", body.Slots[len(body.Slots)-1])

	resp = env.get(t, "/api/slots?date=2025-06-10")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeError(t, resp)["code"])
}

func TestSlotsEndpoint_StoreFailure(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	require.NoError(t, env.db.Close())

	resp := env.get(t, "/api/slots?date=2025-06-10&course=60min")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "internal", body["code"])
	assert.Equal(t, "internal error", body["error"])
}

func TestQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp := env.postJSON(t, "/api/quote", map[string]string{"phone": "090-1234-5678", "course": "90min"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q pricing.Quote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	assert.True(t, q.FirstTime)
	assert.Equal(t, 7000, q.FinalPrice)
}

func TestCreateEndpoint_Errors(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp, err := http.Post(env.ts.URL+"/api/reservations", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.postJSON(t, "/api/reservations", map[string]string{"date": "2025-06-10", "startTime": "13:00", "course": "60min"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "validation", body["code"])
	assert.Contains(t, body["error"], "name")
}

func TestConfirmFlow(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	id := env.createReservation(t, "13:00")

	resp := env.postJSON(t, "/api/confirm", map[string]string{"reservationId": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		ReservationID   string  `json:"reservationId"`
		CalendarEventID *string `json:"calendarEventId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, id, body.ReservationID)
	require.NotNil(t, body.CalendarEventID)
	assert.Equal(t, "evt_1", *body.CalendarEventID)

	resp = env.postJSON(t, "/api/confirm", map[string]string{"reservationId": id})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state", decodeError(t, resp)["code"])

	resp = env.get(t, "/api/deny?id="+id)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), msgProcessed)

	resp = env.get(t, "/api/slots?date=2025-06-10&course=60min")
	var slotsBody service.SlotsResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&slotsBody))
	assert.NotContains(t, slotsBody.Slots, "13:00")
}

func TestConfirmEndpoint_CalendarOutage(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	env.calendar.eventID = ""
	env.calendar.err = errors.New("calendar unavailable")
	id := env.createReservation(t, "13:00")

	resp := env.postJSON(t, "/api/confirm", map[string]string{"reservationId": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reservationId":"`+id+`","calendarEventId":null}`, readBody(t, resp))
	assert.Contains(t, env.mailer.sent, "【Luca】ご予約が確定しました")
}

func TestConfirmEndpoint_Conflict(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	first := env.createReservation(t, "13:00")
	second := env.createReservation(t, "14:45")

	resp := env.postJSON(t, "/api/confirm", map[string]string{"reservationId": first})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.postJSON(t, "/api/confirm", map[string]string{"reservationId": second})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.postJSON(t, "/api/reservations", map[string]string{
		"date": "2025-06-10", "startTime": "14:00", "course": "30min",
		"name": "Suzuki", "phone": "080-0000-0000",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decodeError(t, resp)["code"])
}

func TestConfirmLink(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	id := env.createReservation(t, "13:00")

	resp := env.get(t, "/api/confirm?id="+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, readBody(t, resp), msgConfirmed)

	resp = env.get(t, "/api/confirm?id="+id)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), msgProcessed)

	resp = env.get(t, "/api/confirm")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), msgInvalidLink)
}

func TestDenyEndpoints(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	id := env.createReservation(t, "13:00")

	resp := env.get(t, "/api/deny?id="+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), msgDenied)
	assert.Contains(t, env.mailer.sent, "【Luca】ご予約の承認が見送りとなりました")

	resp = env.get(t, "/api/deny?id=missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), msgNotFound)

	other := env.createReservation(t, "17:00")
	resp = env.postJSON(t, "/api/deny", map[string]string{"reservationId": other})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reservationId":"`+other+`"}`, readBody(t, resp))
}

func TestConfirmAndDeny_QueryParameter(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})
	first := env.createReservation(t, "13:00")
	second := env.createReservation(t, "17:00")

	post := func(path string) *http.Response {
		resp, err := http.Post(env.ts.URL+path, "application/json", nil)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("/api/confirm?id=" + first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reservationId":"`+first+`","calendarEventId":"evt_1"}`, readBody(t, resp))

	resp = post("/api/deny?id=" + second)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"reservationId":"`+second+`"}`, readBody(t, resp))

	resp = post("/api/confirm")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", decodeError(t, resp)["code"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.db.Close())
	resp = env.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/api/reservations", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{})

	resp := env.get(t, "/healthz")
	assert.Len(t, resp.Header.Get(requestIDHeader), 36)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(requestIDHeader))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}})

	for i := 0; i < 2; i++ {
		resp := env.get(t, "/api/slots?date=2025-06-10&course=30min")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.get(t, "/api/slots?date=2025-06-10&course=30min")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, resp)["code"])

	resp = env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("date", "is required"), http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{fmt.Errorf("reservation r-1 coupon ONCE: %w", domain.ErrCouponUsed), http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrStore, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientKey(r))
}
