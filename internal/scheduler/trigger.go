package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger collapses reschedule requests into scheduler passes. Requests
// arriving while a pass is running coalesce into at most one follow-up
// pass, so a burst of ad-hoc starts never queues a pass per request.
type Trigger struct {
	scheduler *Scheduler
	requests  chan string
	stopCh    chan struct{}
	wg        sync.WaitGroup
	cron      *cron.Cron

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewTrigger(s *Scheduler) *Trigger {
	return &Trigger{
		scheduler: s,
		requests:  make(chan string, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the pass worker and, when cronSpec is non-empty, a cron
// entry that requests a periodic pass.
func (t *Trigger) Start(cronSpec string) error {
	var err error
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.worker()

		if cronSpec != "" {
			t.cron = cron.New()
			_, err = t.cron.AddFunc(cronSpec, func() {
				t.TriggerReschedule("periodic")
			})
			if err != nil {
				return
			}
			t.cron.Start()
		}
		log.Printf("[scheduler] trigger started (cron: %q)", cronSpec)
	})
	return err
}

func (t *Trigger) Stop() {
	t.stopOnce.Do(func() {
		if t.cron != nil {
			ctx := t.cron.Stop()
			<-ctx.Done()
		}
		close(t.stopCh)
		t.wg.Wait()
	})
}

// TriggerReschedule requests a scheduling pass. Never blocks; a request
// dropped here is covered by the pass the pending request will run.
func (t *Trigger) TriggerReschedule(reason string) {
	select {
	case t.requests <- reason:
	default:
	}
}

func (t *Trigger) worker() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case reason := <-t.requests:
			t.runPass(reason)
		}
	}
}

func (t *Trigger) runPass(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Printf("[scheduler] pass triggered: %s", reason)
	if _, err := t.scheduler.Run(ctx, time.Now().UTC()); err != nil {
		if errors.Is(err, ErrNoActivePrinters) {
			log.Printf("[scheduler] pass skipped: no active printers")
			return
		}
		log.Printf("[scheduler] pass failed: %v", err)
	}
}
