// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
)

// TurnBuffer is a bounded write-ahead buffer in front of a Store.
//
// # Description
//
// The request path appends turns to the buffer and calls Flush at the
// end of each exchange; the buffer owns retrying transient store
// failures with exponential backoff so a slow database never loses a
// turn silently. Unflushed turns survive until the next Flush call
// (turn end, engine eviction, or shutdown).
//
// # Thread Safety
//
// TurnBuffer is safe for concurrent use.
type TurnBuffer struct {
	mu       sync.Mutex
	store    Store
	pending  []Turn
	capacity int

	maxAttempts int
	baseDelay   time.Duration
}

// NewTurnBuffer creates a buffer holding at most capacity turns.
// Flush retries up to 3 times with delays of 100ms, 200ms, 400ms.
func NewTurnBuffer(store Store, capacity int) *TurnBuffer {
	if capacity < 1 {
		capacity = 64
	}
	return &TurnBuffer{
		store:       store,
		capacity:    capacity,
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
	}
}

// Add enqueues a turn for the next flush.
//
// When the buffer is full a synchronous flush is attempted first; if
// that cannot make room the turn is rejected with a CollaboratorError
// rather than evicting an unpersisted one.
func (b *TurnBuffer) Add(ctx context.Context, turn Turn) error {
	b.mu.Lock()
	if len(b.pending) < b.capacity {
		b.pending = append(b.pending, turn)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	slog.Warn("Turn buffer full, flushing synchronously", "capacity", b.capacity)
	if err := b.Flush(ctx); err != nil {
		return &datatypes.CollaboratorError{Collaborator: "history", Op: "buffer_add", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.capacity {
		return &datatypes.CollaboratorError{
			Collaborator: "history",
			Op:           "buffer_add",
			Err:          context.DeadlineExceeded,
		}
	}
	b.pending = append(b.pending, turn)
	return nil
}

// Len returns the number of unflushed turns.
func (b *TurnBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush drains the buffer into the store.
//
// Each turn is appended in order; a failing append is retried with
// exponential backoff. Turns that could not be persisted stay in the
// buffer and the last error is returned.
func (b *TurnBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var lastErr error
	for i, turn := range batch {
		if err := b.appendWithRetry(ctx, &turn); err != nil {
			lastErr = err
			// Requeue this turn and everything after it
			b.mu.Lock()
			b.pending = append(batch[i:], b.pending...)
			b.mu.Unlock()
			slog.Error("Turn buffer flush incomplete",
				"flushed", i, "requeued", len(batch)-i, "error", err)
			break
		}
	}
	return lastErr
}

// appendWithRetry retries transient store failures with exponential
// backoff, honoring context cancellation between attempts.
func (b *TurnBuffer) appendWithRetry(ctx context.Context, turn *Turn) error {
	var lastErr error
	delay := b.baseDelay

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		err := b.store.Append(ctx, turn)
		if err == nil {
			return nil
		}
		// Validation failures will not improve with retries
		if datatypes.IsValidationError(err) {
			return err
		}
		lastErr = err

		if attempt < b.maxAttempts {
			slog.Warn("Turn append failed, retrying",
				"attempt", attempt, "max_attempts", b.maxAttempts, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return lastErr
}
