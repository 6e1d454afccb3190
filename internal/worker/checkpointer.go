package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

// RowOutcome is the result of one processed row.
type RowOutcome struct {
	RowIndex  int
	Rejection *models.RowRejection
}

// Checkpointer buffers row outcomes and flushes them to the ledger as
// progress deltas based on a row count threshold and a timer.
type Checkpointer struct {
	mu sync.Mutex

	maxRows       int
	flushInterval time.Duration

	buffer     store.ProgressDelta
	flushTimer *time.Timer
	stopCh     chan struct{}

	// first flush error; once set every call returns it
	err error

	onFlush func(store.ProgressDelta) error
}

// NewCheckpointer creates a checkpointer that flushes every maxRows outcomes
// or flushInterval after the first buffered outcome, whichever comes first.
// A zero flushInterval disables the timer.
func NewCheckpointer(maxRows int, flushInterval time.Duration, onFlush func(store.ProgressDelta) error) *Checkpointer {
	if maxRows <= 0 {
		maxRows = 1
	}
	return &Checkpointer{
		maxRows:       maxRows,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		onFlush:       onFlush,
	}
}

// Add buffers one outcome. Returns the flush error if a flush fails or an
// earlier flush already failed.
func (c *Checkpointer) Add(outcome RowOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
		return fmt.Errorf("checkpointer is stopped")
	default:
	}

	if c.err != nil {
		return c.err
	}

	if c.buffer.Empty() {
		c.startFlushTimer()
	}

	c.buffer.Processed++
	if outcome.Rejection != nil {
		c.buffer.Failure++
		c.buffer.Errors = append(c.buffer.Errors, *outcome.Rejection)
	} else {
		c.buffer.Success++
	}

	if c.buffer.Processed >= c.maxRows {
		return c.flushLocked("max_rows")
	}
	return nil
}

// Flush writes buffered outcomes immediately.
func (c *Checkpointer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	return c.flushLocked("manual_flush")
}

// Stop flushes what is buffered and refuses further outcomes.
func (c *Checkpointer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
		return c.err
	default:
		close(c.stopCh)
	}

	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}

	if c.err != nil {
		return c.err
	}
	return c.flushLocked("shutdown")
}

// flushLocked must be called with lock held
func (c *Checkpointer) flushLocked(reason string) error {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	if c.buffer.Empty() {
		return nil
	}

	delta := c.buffer
	c.buffer = store.ProgressDelta{}

	log.Debug().
		Int("rows", delta.Processed).
		Int("failures", delta.Failure).
		Str("reason", reason).
		Msg("Flushing progress checkpoint")

	if err := c.onFlush(delta); err != nil {
		c.err = err
		return err
	}
	return nil
}

// startFlushTimer must be called with lock held
func (c *Checkpointer) startFlushTimer() {
	if c.flushInterval <= 0 {
		return
	}
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}

	c.flushTimer = time.AfterFunc(c.flushInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		select {
		case <-c.stopCh:
			return
		default:
		}

		if c.err == nil && !c.buffer.Empty() {
			if err := c.flushLocked("timer"); err != nil {
				log.Error().Err(err).Msg("Failed to flush checkpoint on timer")
			}
		}
	})
}
