// Package fanout dispatches outbox events to asynchronous consumers with
// per-event bounded retries and dead-lettering.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Handler consumes one outbox event. A handler's failure is isolated to its
// event: it is retried with backoff and eventually dead-lettered without
// affecting other events or the transaction that emitted it.
type Handler func(ctx context.Context, event *models.OutboxEvent) error

// Dispatcher polls the outbox and fans events out to registered handlers.
type Dispatcher struct {
	db       *gorm.DB
	cfg      config.FanoutConfig
	handlers map[string]Handler
	out      io.Writer
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	DB     *gorm.DB
	Config config.FanoutConfig
	Out    io.Writer // defaults to os.Stdout
}

// NewDispatcher creates a Dispatcher with an empty handler registry.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("fanout: db is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Dispatcher{
		db:       opts.DB,
		cfg:      opts.Config,
		handlers: make(map[string]Handler),
		out:      out,
	}, nil
}

// Register installs the handler for an event type.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = h
}

// Run polls for due events and dispatches them until the context is
// cancelled. Each claimed event runs in its own goroutine so one slow
// consumer does not block the rest.
func (d *Dispatcher) Run(ctx context.Context) {
	fmt.Fprintf(d.out, "Fan-out dispatcher starting (poll every %s, max retries %d)\n",
		d.cfg.PollInterval(), d.cfg.MaxRetries)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Fan-out dispatcher stopped\n")
			return
		default:
		}

		event, err := d.claimEvent()
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("fanout: claim: %v", err)
			}
			select {
			case <-ctx.Done():
				fmt.Fprintf(d.out, "Fan-out dispatcher stopped\n")
				return
			case <-time.After(d.cfg.PollInterval()):
			}
			continue
		}

		go d.dispatch(ctx, event)
	}
}

// DispatchPending processes all currently due events synchronously. Used by
// tests and by the CLI to drain the outbox without a running daemon.
func (d *Dispatcher) DispatchPending(ctx context.Context) int {
	n := 0
	for {
		event, err := d.claimEvent()
		if err != nil {
			return n
		}
		d.dispatch(ctx, event)
		n++
	}
}

// claimEvent atomically claims the oldest runnable event. Runnable means
// pending and due, or processing with a claim older than the claim timeout
// (the dispatcher died mid-handle; redeliver rather than lose the event).
func (d *Dispatcher) claimEvent() (*models.OutboxEvent, error) {
	var claimed models.OutboxEvent

	err := d.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		stale := now.Add(-d.cfg.ClaimTimeout())
		result := db.LockSkipLocked(tx).
			Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND claimed_at < ?)",
				models.EventPending, now, models.EventProcessing, stale).
			Order("created_at ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("fanout: find due event: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("fanout: no due events: %w", gorm.ErrRecordNotFound)
		}

		if err := tx.Model(&models.OutboxEvent{}).Where("id = ?", claimed.ID).Updates(map[string]interface{}{
			"status":     models.EventProcessing,
			"claimed_at": now,
			"attempts":   claimed.Attempts + 1,
		}).Error; err != nil {
			return fmt.Errorf("fanout: claim event %d: %w", claimed.ID, err)
		}
		claimed.Status = models.EventProcessing
		claimed.ClaimedAt = &now
		claimed.Attempts++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// dispatch runs the handler for one claimed event and records the outcome.
func (d *Dispatcher) dispatch(ctx context.Context, event *models.OutboxEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("fanout: handler panic [event=%d type=%s conversation=%d]: %v",
				event.ID, event.Type, event.ConversationID, r)
			d.recordFailure(event, fmt.Sprintf("panic: %v", r))
		}
	}()

	handler, ok := d.handlers[event.Type]
	if !ok {
		// No consumer registered; nothing will ever handle it.
		log.Printf("fanout: no handler for event type %s, marking done [event=%d]", event.Type, event.ID)
		d.update(event, map[string]interface{}{"status": models.EventDone})
		return
	}

	if err := handler(ctx, event); err != nil {
		log.Printf("fanout: handler failed [event=%d type=%s conversation=%d attempt=%d]: %v",
			event.ID, event.Type, event.ConversationID, event.Attempts, err)
		d.recordFailure(event, err.Error())
		return
	}

	d.update(event, map[string]interface{}{"status": models.EventDone, "last_error": ""})
}

// recordFailure requeues the event with backoff, or dead-letters it when the
// retry budget is exhausted.
func (d *Dispatcher) recordFailure(event *models.OutboxEvent, detail string) {
	if event.Attempts >= d.cfg.MaxRetries {
		log.Printf("fanout: dead-lettering event %d [type=%s conversation=%d] after %d attempts: %s",
			event.ID, event.Type, event.ConversationID, event.Attempts, detail)
		d.update(event, map[string]interface{}{
			"status":     models.EventDead,
			"last_error": detail,
		})
		return
	}

	backoff := time.Duration(event.Attempts) * d.cfg.Backoff()
	d.update(event, map[string]interface{}{
		"status":          models.EventPending,
		"last_error":      detail,
		"next_attempt_at": time.Now().Add(backoff),
	})
}

// update applies event updates, logging failures (there is no caller to
// report them to).
func (d *Dispatcher) update(event *models.OutboxEvent, updates map[string]interface{}) {
	if err := d.db.Model(event).Updates(updates).Error; err != nil {
		log.Printf("fanout: update event %d: %v", event.ID, err)
	}
}
