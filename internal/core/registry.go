package core

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/orrn/printfarm/internal/config"
	"github.com/orrn/printfarm/internal/db"
)

// EventHandler consumes lifecycle events detected by printer workers.
type EventHandler interface {
	HandleEvent(ctx context.Context, event LifecycleEvent)
}

type printerWorker struct {
	printerID int64
	adapter   Adapter
	stopCh    chan struct{}
}

// Registry owns one worker per connected printer. It replaces ambient
// connection maps: lifecycle (start/stop) is explicit and the registry is
// injected into whatever needs command verbs. Workers never block each
// other; each runs its own receive-and-normalize loop.
type Registry struct {
	store   *db.Store
	cfg     *config.FleetConfig
	monitor *Monitor
	handler EventHandler
	alerts  AlertSender
	trigger RescheduleTrigger

	mu      sync.RWMutex
	workers map[int64]*printerWorker
	wg      sync.WaitGroup
}

func NewRegistry(store *db.Store, cfg *config.FleetConfig, monitor *Monitor, handler EventHandler, alerts AlertSender, trigger RescheduleTrigger) *Registry {
	return &Registry{
		store:   store,
		cfg:     cfg,
		monitor: monitor,
		handler: handler,
		alerts:  alerts,
		trigger: trigger,
		workers: make(map[int64]*printerWorker),
	}
}

// Register connects an adapter session and starts its worker.
func (r *Registry) Register(ctx context.Context, printerID int64, adapter Adapter) error {
	r.mu.Lock()
	if _, exists := r.workers[printerID]; exists {
		r.mu.Unlock()
		return ErrPrinterAlreadyExists
	}
	w := &printerWorker{
		printerID: printerID,
		adapter:   adapter,
		stopCh:    make(chan struct{}),
	}
	r.workers[printerID] = w
	r.mu.Unlock()

	if err := adapter.Connect(ctx); err != nil {
		r.mu.Lock()
		delete(r.workers, printerID)
		r.mu.Unlock()
		return err
	}

	r.wg.Add(1)
	go r.run(w)

	return nil
}

// Deregister stops a printer's worker cooperatively and closes its session.
func (r *Registry) Deregister(printerID int64) error {
	r.mu.Lock()
	w, exists := r.workers[printerID]
	if !exists {
		r.mu.Unlock()
		return ErrPrinterNotFound
	}
	delete(r.workers, printerID)
	r.mu.Unlock()

	close(w.stopCh)
	r.monitor.Forget(printerID)
	return w.adapter.Close()
}

// Stop shuts down all workers and waits for them to drain.
func (r *Registry) Stop() {
	r.mu.Lock()
	for id, w := range r.workers {
		close(w.stopCh)
		w.adapter.Close()
		delete(r.workers, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Registry) Pause(ctx context.Context, printerID int64) (bool, error) {
	a, err := r.adapterFor(printerID)
	if err != nil {
		return false, err
	}
	return a.Pause(ctx), nil
}

func (r *Registry) Resume(ctx context.Context, printerID int64) (bool, error) {
	a, err := r.adapterFor(printerID)
	if err != nil {
		return false, err
	}
	return a.Resume(ctx), nil
}

func (r *Registry) Cancel(ctx context.Context, printerID int64) (bool, error) {
	a, err := r.adapterFor(printerID)
	if err != nil {
		return false, err
	}
	return a.Cancel(ctx), nil
}

func (r *Registry) Connected(printerID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[printerID]
	return ok
}

func (r *Registry) adapterFor(printerID int64) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, exists := r.workers[printerID]
	if !exists {
		return nil, ErrPrinterNotFound
	}
	return w.adapter, nil
}

// run is one printer's receive-and-normalize loop. It selects on push
// frames, the poll ticker, and stop; every snapshot goes through the same
// monitor regardless of delivery style.
func (r *Registry) run(w *printerWorker) {
	defer r.wg.Done()

	ctx := context.Background()
	pollTicker := time.NewTicker(r.cfg.PollInterval)
	defer pollTicker.Stop()

	events := w.adapter.Events()
	lastRead := time.Now()
	lastTelemetry := time.Time{}
	offline := false

	handleSnapshot := func(status CanonicalStatus) {
		lastRead = time.Now()
		if offline {
			offline = false
			r.printerBack(ctx, w.printerID)
		}
		if time.Since(lastTelemetry) >= r.cfg.TelemetryInterval {
			lastTelemetry = time.Now()
			r.writeTelemetry(ctx, w.printerID, status)
		}
		if event := r.monitor.Observe(w.printerID, status); event != nil {
			r.dispatch(ctx, *event)
		}
	}

	for {
		select {
		case <-w.stopCh:
			return

		case status, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			handleSnapshot(status)

		case <-pollTicker.C:
			if events == nil {
				status, err := w.adapter.Status(ctx)
				if err == nil && status != nil {
					handleSnapshot(*status)
				}
			}
			if !offline && time.Since(lastRead) > r.cfg.OfflineWindow {
				offline = true
				r.printerGone(ctx, w.printerID)
			}
		}
	}
}

func (r *Registry) dispatch(ctx context.Context, event LifecycleEvent) {
	switch event.Type {
	case EventDispatchNext:
		// Let the printer settle before asking for the next assignment.
		if r.trigger != nil {
			time.AfterFunc(r.cfg.SettleDelay, func() {
				r.trigger.TriggerReschedule("printer settled")
			})
		}
	default:
		if r.handler != nil {
			r.handler.HandleEvent(ctx, event)
		}
	}
}

// printerGone marks a printer offline after the heartbeat window lapses.
// It becomes unavailable for scheduling until it reports again.
func (r *Registry) printerGone(ctx context.Context, printerID int64) {
	log.Printf("[registry] printer %d offline: no status for %s", printerID, r.cfg.OfflineWindow)

	if event := r.monitor.MarkOffline(printerID); event != nil {
		if err := r.store.Printers.UpdateState(ctx, printerID, string(StateOffline)); err != nil {
			log.Printf("[registry] failed to record offline state for printer %d: %v", printerID, err)
		}
		if err := r.store.Printers.SetActive(ctx, printerID, false); err != nil {
			log.Printf("[registry] failed to deactivate printer %d: %v", printerID, err)
		}
		if r.alerts != nil {
			r.alerts.Send(Alert{
				Type:      "printer_offline",
				Severity:  SeverityWarning,
				Title:     "Printer offline",
				Message:   "no status received within the heartbeat window",
				PrinterID: printerID,
			})
		}
	}
}

func (r *Registry) printerBack(ctx context.Context, printerID int64) {
	log.Printf("[registry] printer %d back online", printerID)
	if err := r.store.Printers.SetActive(ctx, printerID, true); err != nil {
		log.Printf("[registry] failed to reactivate printer %d: %v", printerID, err)
	}
}

// writeTelemetry persists state and loaded slots. Single-row updates, no
// locking; throttled to the telemetry interval per printer.
func (r *Registry) writeTelemetry(ctx context.Context, printerID int64, status CanonicalStatus) {
	if err := r.store.Printers.UpdateState(ctx, printerID, string(status.State)); err != nil {
		log.Printf("[registry] failed to update printer %d state: %v", printerID, err)
		return
	}
	for _, slot := range status.LoadedSlots {
		err := r.store.Printers.UpsertSlot(ctx, &db.PrinterSlot{
			PrinterID:  printerID,
			SlotIndex:  slot.Index,
			Color:      slot.Color,
			Material:   slot.Material,
			RemainingG: slot.RemainingG,
		})
		if err != nil {
			log.Printf("[registry] failed to update printer %d slot %d: %v", printerID, slot.Index, err)
		}
	}
}
