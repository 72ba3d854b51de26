package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gym-telemetry-backend/config"
	"gym-telemetry-backend/internal/booking"
	"gym-telemetry-backend/internal/model"
	"gym-telemetry-backend/internal/notification"
	"gym-telemetry-backend/internal/registry"
	"gym-telemetry-backend/internal/sprint"
	"gym-telemetry-backend/internal/store"
)

type fakePublisher struct {
	topics   []string
	payloads []string
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	return nil
}

type recordingDispatcher struct {
	alerts []notification.Alert
}

func (d *recordingDispatcher) Dispatch(alert notification.Alert) {
	d.alerts = append(d.alerts, alert)
}

type testEnv struct {
	router     *gin.Engine
	db         *gorm.DB
	registry   *registry.Registry
	publisher  *fakePublisher
	dispatcher *recordingDispatcher
	results    *cache.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&model.Slot{}, &model.Sprint{}, &model.Booking{}, &model.PushSubscription{}))
	require.NoError(t, db.Create(&model.Slot{ID: 1, Time: time.Now().UTC(), NumberOfPlaces: 8}).Error)

	reg := registry.New(registry.PolicyQuarantine)
	appStore := store.NewGormStore(db)
	publisher := &fakePublisher{}
	dispatcher := &recordingDispatcher{}
	results := cache.New(time.Minute, time.Minute)

	router := NewRouter(Deps{
		Store:      appStore,
		Registry:   reg,
		Aggregator: sprint.NewAggregator(appStore, reg),
		Bookings:   booking.NewService(appStore),
		Publisher:  publisher,
		Webpush:    &webpush.Options{VAPIDPublicKey: "test-public-key"},
		Results:    results,
		Alerts:     dispatcher,
		Commands:   config.CommandsConfig{StartTopic: "sensors/cmd/start", StopTopic: "sensors/cmd/stop"},
	}, rate.Limit(1000), 1000, time.Minute)

	return &testEnv{
		router:     router,
		db:         db,
		registry:   reg,
		publisher:  publisher,
		dispatcher: dispatcher,
		results:    results,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRegisterTouchStatusFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/sensors/register", gin.H{"device_id": "DEV-1", "ip": "10.0.0.5"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "registered", body["status"])
	assert.Equal(t, float64(1), body["count"])

	w = env.request(t, "POST", "/api/sensors/touch", gin.H{"device_id": "DEV-1", "ip": "10.0.0.5"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refreshed", decodeBody(t, w)["status"])

	w = env.request(t, "GET", "/api/sensors/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, float64(1), body["devices_registered"])
	assert.Equal(t, false, body["training_active"])

	devices := body["devices"].(map[string]any)
	dev := devices["DEV-1"].(map[string]any)
	assert.Equal(t, "10.0.0.5", dev["ip"])
	assert.Equal(t, true, dev["active"])
	assert.Equal(t, false, dev["ip_mismatch"])
	assert.Nil(t, dev["mismatch_ip"])
}

func TestRegisterRejectsIncompletePayload(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/sensors/register", gin.H{"device_id": "DEV-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.registry.Len())
}

func TestTouchQuarantineDispatchesAlert(t *testing.T) {
	env := newTestEnv(t)

	env.request(t, "POST", "/api/sensors/register", gin.H{"device_id": "DEV-1", "ip": "10.0.0.5"})

	w := env.request(t, "POST", "/api/sensors/touch", gin.H{"device_id": "DEV-1", "ip": "10.0.0.99"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "quarantined", decodeBody(t, w)["status"])

	require.Len(t, env.dispatcher.alerts, 1)
	assert.Equal(t, "DEV-1", env.dispatcher.alerts[0].DeviceID)
	assert.Equal(t, notification.AlertQuarantined, env.dispatcher.alerts[0].Kind)

	// The quarantined flag is visible in the status report.
	w = env.request(t, "GET", "/api/sensors/status", nil)
	dev := decodeBody(t, w)["devices"].(map[string]any)["DEV-1"].(map[string]any)
	assert.Equal(t, true, dev["ip_mismatch"])
	assert.Equal(t, "10.0.0.99", dev["mismatch_ip"])
}

func TestStartAllStopAllBroadcast(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/sensors/start_all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["training_active"])
	assert.True(t, env.registry.TrainingActive())

	w = env.request(t, "POST", "/api/sensors/stop_all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.registry.TrainingActive())

	require.Equal(t, []string{"sensors/cmd/start", "sensors/cmd/stop"}, env.publisher.topics)
	assert.Equal(t, []string{"ALL", "ALL"}, env.publisher.payloads)
}

func TestStartAllPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = fmt.Errorf("broker unreachable")

	w := env.request(t, "POST", "/api/sensors/start_all", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.registry.TrainingActive())
}

func TestReceiveHitsAccumulatesAndFinalizes(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/sensors/hits/bulk", gin.H{
		"session_id":     1,
		"sprint_id":      1,
		"device_id":      "DEV-1",
		"hits":           []gin.H{{"timeMs": 500, "maxAccel": 10}, {"timeMs": 1000, "maxAccel": 8}},
		"blink_interval": 500,
		"is_last":        false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["added"])
	assert.Equal(t, float64(2), body["total"])
	assert.Nil(t, body["result"])

	w = env.request(t, "POST", "/api/sensors/hits/bulk", gin.H{
		"session_id":     1,
		"sprint_id":      1,
		"device_id":      "DEV-1",
		"hits":           []gin.H{{"timeMs": 1500, "maxAccel": 9}},
		"blink_interval": 500,
		"is_last":        true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, true, body["is_last"])

	result := body["result"].(map[string]any)
	assert.Equal(t, 108.0, result["power"])
	assert.Equal(t, 100.0, result["tempo"])
	assert.Equal(t, 98.64, result["energy"])

	// Ingestion counts as liveness, even without a prior register.
	snap := env.registry.Snapshot()
	_, ok := snap["DEV-1"]
	assert.True(t, ok)
}

func TestReceiveHitsAcceptsStringNumerics(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/sensors/hits/bulk", gin.H{
		"session_id":     "1",
		"sprint_id":      "2",
		"device_id":      "DEV-1",
		"hits":           []gin.H{{"timeMs": 500, "maxAccel": 10}},
		"blink_interval": "500",
		"is_last":        false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}

func TestReceiveHitsValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing device id", gin.H{"session_id": 1, "sprint_id": 1, "hits": []gin.H{}}},
		{"zero session id", gin.H{"session_id": 0, "sprint_id": 1, "device_id": "DEV-1"}},
		{"negative sprint id", gin.H{"session_id": 1, "sprint_id": -2, "device_id": "DEV-1"}},
		{"negative hit time", gin.H{"session_id": 1, "sprint_id": 1, "device_id": "DEV-1", "hits": []gin.H{{"timeMs": -5, "maxAccel": 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.request(t, "POST", "/api/sensors/hits/bulk", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestReceiveHitsConflictAfterRetryBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)

	conflicting := &conflictingStore{}
	router := NewRouter(Deps{
		Registry:   registry.New(registry.PolicyQuarantine),
		Aggregator: sprint.NewAggregator(conflicting, nil),
		Bookings:   nil,
		Publisher:  &fakePublisher{},
		Results:    cache.New(time.Minute, time.Minute),
		Commands:   config.CommandsConfig{},
	}, rate.Limit(1000), 1000, time.Minute)

	raw, _ := json.Marshal(gin.H{
		"session_id": 1,
		"sprint_id":  1,
		"device_id":  "DEV-1",
		"hits":       []gin.H{{"timeMs": 500, "maxAccel": 10}},
		"is_last":    true,
	})
	req, _ := http.NewRequest("POST", "/api/sensors/hits/bulk", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 2, conflicting.calls)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["status"])
}

// conflictingStore rejects every commit as a write conflict.
type conflictingStore struct {
	calls int
}

func (s *conflictingStore) AppendHits(ctx context.Context, key store.SprintKey, hits []model.Hit, blinkInterval float64, isLast bool) (*store.BatchOutcome, error) {
	s.calls++
	return nil, store.ErrWriteConflict
}

func (s *conflictingStore) RecalculateSprint(ctx context.Context, slotID int64, sprintID int) error {
	return nil
}

func (s *conflictingStore) RecalculateAllSprints(ctx context.Context, slotID int64) (int, error) {
	return 0, nil
}

func TestSlotResultsAndCacheInvalidation(t *testing.T) {
	env := newTestEnv(t)

	send := func(isLast bool, hits []gin.H) {
		w := env.request(t, "POST", "/api/sensors/hits/bulk", gin.H{
			"session_id":     1,
			"sprint_id":      1,
			"device_id":      "DEV-1",
			"hits":           hits,
			"blink_interval": 500,
			"is_last":        isLast,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	send(false, []gin.H{{"timeMs": 500, "maxAccel": 10}, {"timeMs": 1000, "maxAccel": 8}})

	// Prime the cache with the unfinished state.
	w := env.request(t, "GET", "/api/slots/1/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sprints := decodeBody(t, w)["sprints"].([]any)
	require.Len(t, sprints, 1)
	assert.Nil(t, sprints[0].(map[string]any)["result"])

	// The terminal batch must evict the cached entry.
	send(true, []gin.H{{"timeMs": 1500, "maxAccel": 9}})

	w = env.request(t, "GET", "/api/slots/1/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sprints = decodeBody(t, w)["sprints"].([]any)
	require.Len(t, sprints, 1)
	result := sprints[0].(map[string]any)["result"].(map[string]any)
	assert.Equal(t, 108.0, result["power"])
	assert.Equal(t, 98.64, result["energy"])
}

func TestRecalculateSlot(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/sensors/hits/bulk", gin.H{
		"session_id":     1,
		"sprint_id":      1,
		"device_id":      "DEV-1",
		"hits":           []gin.H{{"timeMs": 500, "maxAccel": 10}, {"timeMs": 1000, "maxAccel": 8}, {"timeMs": 1500, "maxAccel": 9}},
		"blink_interval": 500,
		"is_last":        false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "POST", "/api/slots/1/recalculate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["sprints"])

	w = env.request(t, "GET", "/api/slots/1/results", nil)
	result := decodeBody(t, w)["sprints"].([]any)[0].(map[string]any)["result"].(map[string]any)
	assert.Equal(t, 108.0, result["power"])
}

func TestCompleteBookingEndpoint(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.db.Create(&model.Booking{
		ID:        42,
		CreatedAt: time.Now().UTC(),
		SlotID:    1,
		SensorID:  "DEV-1",
	}).Error)

	w := env.request(t, "POST", "/api/sensors/hits/bulk", gin.H{
		"session_id":     1,
		"sprint_id":      1,
		"device_id":      "DEV-1",
		"hits":           []gin.H{{"timeMs": 500, "maxAccel": 10}, {"timeMs": 1000, "maxAccel": 8}, {"timeMs": 1500, "maxAccel": 9}},
		"blink_interval": 500,
		"is_last":        true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "POST", "/api/bookings/42/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(42), body["booking_id"])
	assert.Equal(t, true, body["is_done"])
	assert.Equal(t, 108.0, body["power"])
	assert.Equal(t, 100.0, body["tempo"])
	assert.Equal(t, 98.64, body["energy"])

	sprintsData := body["sprints_data"].(map[string]any)
	require.Contains(t, sprintsData, "1")
}

func TestCompleteBookingNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/bookings/999/complete", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "PUT", "/api/subscriptions", gin.H{
		"endpoint": "https://push.example/abc",
		"p256dh":   "key",
		"auth":     "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.request(t, "GET", "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fabc", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, "DELETE", "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.request(t, "GET", "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fabc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutSubscriptionRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "PUT", "/api/subscriptions", gin.H{"endpoint": "https://push.example/abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestGetVAPIDPublicKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "GET", "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"test-public-key"}`, w.Body.String())
}
