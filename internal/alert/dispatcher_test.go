package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printfarm/internal/config"
	"github.com/orrn/printfarm/internal/core"
	"github.com/orrn/printfarm/internal/db"
)

type fakeSink struct {
	mu        sync.Mutex
	delivered []*db.Alert
	failures  int
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Deliver(ctx context.Context, alert *db.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("delivery failed")
	}
	s.delivered = append(s.delivered, alert)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func newAlertTestStore(t *testing.T) *db.Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.NewStore(conn)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcherPersistsAndDelivers(t *testing.T) {
	store := newAlertTestStore(t)
	sink := &fakeSink{}
	d := NewDispatcher(store, config.AlertsConfig{RetryDelay: time.Millisecond}, sink)
	d.Start()
	defer d.Stop()

	jobID := int64(7)
	d.Send(core.Alert{
		Type:      "print_complete",
		Severity:  core.SeverityInfo,
		Title:     "Print complete",
		PrinterID: 1,
		JobID:     &jobID,
		Metadata:  map[string]any{"duration_min": 42},
	})

	waitFor(t, func() bool { return sink.count() == 1 })

	rows, err := store.Alerts.List(context.Background(), "print_complete", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Print complete", rows[0].Title)
	require.NotNil(t, rows[0].JobID)
	assert.Equal(t, jobID, *rows[0].JobID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[0].MetadataJSON), &meta))
	assert.EqualValues(t, 42, meta["duration_min"])
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	store := newAlertTestStore(t)
	sink := &fakeSink{failures: 2}
	d := NewDispatcher(store, config.AlertsConfig{RetryCount: 3, RetryDelay: time.Millisecond}, sink)
	d.Start()
	defer d.Stop()

	d.Send(core.Alert{Type: "printer_offline", Severity: core.SeverityWarning, Title: "Printer offline", PrinterID: 2})

	waitFor(t, func() bool { return sink.count() == 1 })
}

type rejectingSink struct {
	mu       sync.Mutex
	attempts int
}

func (s *rejectingSink) Name() string { return "rejecting" }

func (s *rejectingSink) Deliver(ctx context.Context, alert *db.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return errors.New("http error: 404")
}

func (s *rejectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func TestDispatcherDoesNotRetryClientErrors(t *testing.T) {
	store := newAlertTestStore(t)
	sink := &rejectingSink{}
	d := NewDispatcher(store, config.AlertsConfig{RetryCount: 3, RetryDelay: time.Millisecond}, sink)
	d.Start()
	defer d.Stop()

	d.Send(core.Alert{Type: "print_failed", Severity: core.SeverityError, Title: "Print failed", PrinterID: 3})

	waitFor(t, func() bool { return sink.count() == 1 })

	// A rejection is final; give the worker time to prove it stays at one.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, isClientError(errors.New("http error: 404")))
	assert.False(t, isClientError(errors.New("http error: 503")))
	assert.False(t, isClientError(errors.New("connection refused")))
	assert.False(t, isClientError(nil))
}

func TestDispatcherPersistsWithoutSinks(t *testing.T) {
	store := newAlertTestStore(t)
	d := NewDispatcher(store, config.AlertsConfig{})
	d.Start()
	defer d.Stop()

	d.Send(core.Alert{Type: "stale_schedule", Severity: core.SeverityInfo, Title: "Stale schedule reset", PrinterID: 1})

	rows, err := store.Alerts.List(context.Background(), "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWebhookSinkSignsPayload(t *testing.T) {
	type received struct {
		body      []byte
		event     string
		signature string
	}
	got := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{
			body:      body,
			event:     r.Header.Get("X-Alert-Event"),
			signature: r.Header.Get("X-Alert-Signature"),
		}
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "topsecret", 2*time.Second)
	alert := &db.Alert{ID: "a1", AlertType: "schedule_bump", Title: "Ad-hoc print displaced scheduled jobs"}
	require.NoError(t, sink.Deliver(context.Background(), alert))

	r := <-got
	assert.Equal(t, "schedule_bump", r.event)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(r.body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.signature)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(r.body, &payload))
	assert.Equal(t, "a1", payload.Alert.ID)
}

func TestWebhookSinkReturnsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, "", time.Second)
	err := sink.Deliver(context.Background(), &db.Alert{ID: "a2", AlertType: "print_failed"})
	assert.Error(t, err)
}
