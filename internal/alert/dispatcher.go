package alert

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printfarm/internal/config"
	"github.com/orrn/printfarm/internal/core"
	"github.com/orrn/printfarm/internal/db"
)

// Sink delivers one alert to an external destination. Delivery failures
// are retried by the dispatcher, not the sink.
type Sink interface {
	Deliver(ctx context.Context, alert *db.Alert) error
	Name() string
}

type task struct {
	alert   *db.Alert
	attempt int
}

// Dispatcher persists alerts and fans them out to sinks through a bounded
// queue and a small worker pool. Send never blocks the caller; when the
// queue is full the alert is still persisted, only delivery is dropped.
type Dispatcher struct {
	store      *db.Store
	sinks      []Sink
	retryCount int
	retryDelay time.Duration
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup

	workerCount int
	startOnce   sync.Once
	stopOnce    sync.Once
}

func NewDispatcher(store *db.Store, cfg config.AlertsConfig, sinks ...Sink) *Dispatcher {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Dispatcher{
		store:       store,
		sinks:       sinks,
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		queue:       make(chan *task, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		workerCount: cfg.WorkerCount,
	}
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workerCount; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
	})
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
	})
}

// Send implements core.AlertSender. The alert row is written synchronously
// so the audit trail survives a crash; delivery happens on the workers.
func (d *Dispatcher) Send(alert core.Alert) {
	row := &db.Alert{
		ID:        uuid.New().String(),
		AlertType: alert.Type,
		Severity:  string(alert.Severity),
		Title:     alert.Title,
		Message:   alert.Message,
		PrinterID: alert.PrinterID,
		JobID:     alert.JobID,
		CreatedAt: time.Now().UTC(),
	}
	if len(alert.Metadata) > 0 {
		raw, err := json.Marshal(alert.Metadata)
		if err != nil {
			log.Printf("[alert] failed to marshal metadata for %s: %v", alert.Type, err)
		} else {
			row.MetadataJSON = string(raw)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Alerts.Create(ctx, row); err != nil {
		log.Printf("[alert] failed to persist alert %s: %v", alert.Type, err)
	}

	if len(d.sinks) == 0 {
		return
	}

	select {
	case d.queue <- &task{alert: row}:
	default:
		log.Printf("[alert] queue full, dropping delivery of %s alert %s", row.AlertType, row.ID)
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case t := <-d.queue:
			d.deliverAll(id, t)
		}
	}
}

func (d *Dispatcher) deliverAll(workerID int, t *task) {
	for _, sink := range d.sinks {
		if err := d.deliverWithRetry(sink, t); err != nil {
			log.Printf("[alert worker %d] failed to deliver alert %s to %s after %d attempts: %v",
				workerID, t.alert.ID, sink.Name(), t.attempt, err)
		}
	}
}

func (d *Dispatcher) deliverWithRetry(sink Sink, t *task) error {
	var lastErr error
	t.attempt = 0
	for t.attempt < d.retryCount {
		t.attempt++

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := sink.Deliver(ctx, t.alert)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			// The endpoint rejected the payload; retrying won't change that.
			log.Printf("[alert] client error for alert %s via %s, not retrying: %v",
				t.alert.ID, sink.Name(), err)
			return err
		}

		if t.attempt < d.retryCount {
			backoff := d.retryDelay * time.Duration(1<<(t.attempt-1))
			log.Printf("[alert] retry %d/%d for alert %s via %s in %v: %v",
				t.attempt, d.retryCount, t.alert.ID, sink.Name(), backoff, err)

			select {
			case <-d.stopCh:
				return lastErr
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func isClientError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "http error: 4")
}
