package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// pollStatus is the JSON status document exposed by printer-side agents
// (moonraker-style bridges and vendor REST shims alike map onto it).
type pollStatus struct {
	State           string  `json:"state"`
	ProgressPercent float64 `json:"progress_percent"`
	CurrentLayer    int     `json:"current_layer"`
	TotalLayers     int     `json:"total_layers"`
	NozzleTempC     float64 `json:"nozzle_temp_c"`
	BedTempC        float64 `json:"bed_temp_c"`
	FileName        string  `json:"file_name"`
	ErrorMessage    string  `json:"error_message"`
	Slots           []struct {
		Index      int     `json:"index"`
		Color      string  `json:"color"`
		Material   string  `json:"material"`
		RemainingG float64 `json:"remaining_g"`
	} `json:"slots"`
}

// PollAdapter drives a printer through its HTTP status endpoint. It is the
// reference poll-only adapter: Events() returns nil and the registry calls
// Status on its interval.
type PollAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewPollAdapter(baseURL string, timeout time.Duration) *PollAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PollAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Connect probes the status endpoint once so registration fails fast on a
// bad URL instead of producing a silently offline worker.
func (a *PollAdapter) Connect(ctx context.Context) error {
	_, err := a.Status(ctx)
	if err != nil {
		return fmt.Errorf("printer unreachable: %w", err)
	}
	return nil
}

func (a *PollAdapter) Status(ctx context.Context) (*CanonicalStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http error: %d", resp.StatusCode)
	}

	var raw pollStatus
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}

	status := &CanonicalStatus{
		State:           normalizeState(raw.State),
		ProgressPercent: raw.ProgressPercent,
		CurrentLayer:    raw.CurrentLayer,
		TotalLayers:     raw.TotalLayers,
		NozzleTempC:     raw.NozzleTempC,
		BedTempC:        raw.BedTempC,
		SourceLabel:     raw.FileName,
		ErrorMessage:    raw.ErrorMessage,
	}
	for _, slot := range raw.Slots {
		status.LoadedSlots = append(status.LoadedSlots, LoadedSlot{
			Index:      slot.Index,
			Color:      slot.Color,
			Material:   slot.Material,
			RemainingG: slot.RemainingG,
		})
	}
	return status, nil
}

func (a *PollAdapter) Pause(ctx context.Context) bool {
	return a.command(ctx, "pause")
}

func (a *PollAdapter) Resume(ctx context.Context) bool {
	return a.command(ctx, "resume")
}

func (a *PollAdapter) Cancel(ctx context.Context) bool {
	return a.command(ctx, "cancel")
}

// Events returns nil: this adapter has no push channel.
func (a *PollAdapter) Events() <-chan CanonicalStatus {
	return nil
}

func (a *PollAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *PollAdapter) command(ctx context.Context, verb string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/print/"+verb, nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

// normalizeState maps agent state strings onto canonical states. Unknown
// vendor states degrade to StateUnknown rather than erroring.
func normalizeState(s string) PrinterState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "ready", "standby", "operational":
		return StateIdle
	case "running", "printing", "busy":
		return StateRunning
	case "paused", "pausing":
		return StatePaused
	case "finished", "complete", "completed", "done":
		return StateFinished
	case "failed", "error", "errored":
		return StateFailed
	case "offline", "disconnected":
		return StateOffline
	default:
		return StateUnknown
	}
}
