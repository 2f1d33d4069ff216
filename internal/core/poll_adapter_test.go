package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollAdapterStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"state": "Printing",
			"progress_percent": 42.5,
			"current_layer": 120,
			"total_layers": 300,
			"nozzle_temp_c": 215,
			"bed_temp_c": 60,
			"file_name": "benchy.gcode.3mf",
			"slots": [
				{"index": 0, "color": "red", "material": "PLA", "remaining_g": 412.5}
			]
		}`))
	}))
	defer server.Close()

	adapter := NewPollAdapter(server.URL+"/", 2*time.Second)
	status, err := adapter.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, 42.5, status.ProgressPercent)
	assert.Equal(t, 300, status.TotalLayers)
	assert.Equal(t, "benchy.gcode.3mf", status.SourceLabel)
	require.Len(t, status.LoadedSlots, 1)
	assert.Equal(t, "red", status.LoadedSlots[0].Color)
	assert.Equal(t, 412.5, status.LoadedSlots[0].RemainingG)
}

func TestPollAdapterStatusHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewPollAdapter(server.URL, 2*time.Second)
	_, err := adapter.Status(context.Background())
	assert.Error(t, err)

	assert.Error(t, adapter.Connect(context.Background()))
}

func TestPollAdapterCommands(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/print/cancel" {
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer server.Close()

	adapter := NewPollAdapter(server.URL, 2*time.Second)
	ctx := context.Background()

	assert.True(t, adapter.Pause(ctx))
	assert.True(t, adapter.Resume(ctx))
	assert.False(t, adapter.Cancel(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"POST /print/pause", "POST /print/resume", "POST /print/cancel"}, paths)
}

func TestNormalizeState(t *testing.T) {
	tests := []struct {
		raw  string
		want PrinterState
	}{
		{"Printing", StateRunning},
		{"operational", StateIdle},
		{"  PAUSED ", StatePaused},
		{"complete", StateFinished},
		{"errored", StateFailed},
		{"disconnected", StateOffline},
		{"warming_up", StateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeState(tt.raw), "raw %q", tt.raw)
	}
}

func TestPollAdapterEventsIsNil(t *testing.T) {
	adapter := NewPollAdapter("http://127.0.0.1:9", time.Second)
	assert.Nil(t, adapter.Events())
}
