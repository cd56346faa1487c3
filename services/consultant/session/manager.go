// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session caches conversation engines per session key with LRU
// eviction and idle expiry, rehydrating evicted sessions from the
// history store on their next request.
package session

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/conversation"
	"github.com/AleutianAI/ConsultAudio/services/consultant/history"
)

const (
	// DefaultCacheSize bounds the number of live engines.
	DefaultCacheSize = 256

	// DefaultIdleTTL is how long an untouched session stays cached.
	DefaultIdleTTL = 30 * time.Minute

	// hydrateTurns is how much persisted history seeds a rebuilt engine.
	hydrateTurns = 10
)

// Factory builds a conversation engine for a session key.
type Factory func(key string) *conversation.Engine

// Manager is a bounded, TTL-swept cache of conversation engines.
// Eviction never loses turns: engines flush their write-behind buffer
// before being dropped, and evicted sessions hydrate from the history
// store on the next Get.
type Manager struct {
	factory Factory
	store   history.Store
	maxSize int
	idleTTL time.Duration

	mu      sync.Mutex
	engines map[string]*list.Element
	order   *list.List // front is most recently used

	done      chan struct{}
	closeOnce sync.Once
}

type cacheEntry struct {
	key    string
	engine *conversation.Engine
}

// NewManager creates a Manager and starts its idle sweep. maxSize and
// idleTTL fall back to the defaults when non-positive. Call Close to
// stop the sweeper and flush all sessions.
func NewManager(factory Factory, store history.Store, maxSize int, idleTTL time.Duration) *Manager {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	m := &Manager{
		factory: factory,
		store:   store,
		maxSize: maxSize,
		idleTTL: idleTTL,
		engines: make(map[string]*list.Element),
		order:   list.New(),
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Get returns the engine for key, building and hydrating one on a miss.
// An empty key returns a throwaway engine that is never cached and never
// persists its turns.
func (m *Manager) Get(ctx context.Context, key string) *conversation.Engine {
	if key == "" {
		return m.factory("")
	}

	m.mu.Lock()
	if elem, ok := m.engines[key]; ok {
		m.order.MoveToFront(elem)
		engine := elem.Value.(*cacheEntry).engine
		m.mu.Unlock()
		return engine
	}
	m.mu.Unlock()

	// Build outside the lock; hydration hits the database.
	engine := m.factory(key)
	if m.store != nil {
		turns, err := m.store.Recent(ctx, key, hydrateTurns)
		if err != nil {
			slog.Warn("Failed to hydrate session history, starting fresh",
				"session_key", key, "error", err)
		} else if len(turns) > 0 {
			engine.Hydrate(turns)
			slog.Debug("Hydrated session from history", "session_key", key, "turns", len(turns))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent Get may have won the race; keep the cached one.
	if elem, ok := m.engines[key]; ok {
		m.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).engine
	}
	m.engines[key] = m.order.PushFront(&cacheEntry{key: key, engine: engine})
	for m.order.Len() > m.maxSize {
		m.evictOldestLocked()
	}
	return engine
}

// Remove drops a session from the cache after flushing its buffer.
func (m *Manager) Remove(ctx context.Context, key string) {
	m.mu.Lock()
	elem, ok := m.engines[key]
	if ok {
		m.order.Remove(elem)
		delete(m.engines, key)
	}
	m.mu.Unlock()
	if ok {
		m.flush(ctx, elem.Value.(*cacheEntry).engine)
	}
}

// Len reports the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Clear flushes and drops every cached session, returning how many were
// evicted.
func (m *Manager) Clear(ctx context.Context) int {
	m.mu.Lock()
	entries := make([]*cacheEntry, 0, m.order.Len())
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		entries = append(entries, elem.Value.(*cacheEntry))
	}
	m.engines = make(map[string]*list.Element)
	m.order.Init()
	m.mu.Unlock()

	for _, entry := range entries {
		m.flush(ctx, entry.engine)
	}
	slog.Info("Cleared session cache", "sessions", len(entries))
	return len(entries)
}

// Close stops the idle sweeper and flushes all sessions.
func (m *Manager) Close(ctx context.Context) {
	m.closeOnce.Do(func() { close(m.done) })
	m.Clear(ctx)
}

// evictOldestLocked removes the LRU entry. Caller holds m.mu; the flush
// runs detached so the lock is never held across database writes.
func (m *Manager) evictOldestLocked() {
	elem := m.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*cacheEntry)
	m.order.Remove(elem)
	delete(m.engines, entry.key)
	slog.Debug("Evicting least recently used session", "session_key", entry.key)
	go m.flush(context.Background(), entry.engine)
}

func (m *Manager) flush(ctx context.Context, engine *conversation.Engine) {
	if err := engine.Flush(ctx); err != nil {
		slog.Error("Failed to flush session buffer on eviction",
			"session_key", engine.Key(), "error", err)
	}
}

// sweep periodically evicts sessions idle past the TTL.
func (m *Manager) sweep() {
	interval := m.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*cacheEntry
	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*cacheEntry)
		if entry.engine.LastUsed().Before(cutoff) {
			m.order.Remove(elem)
			delete(m.engines, entry.key)
			expired = append(expired, entry)
		}
		elem = prev
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, entry := range expired {
		m.flush(ctx, entry.engine)
	}
	slog.Info("Evicted idle sessions", "count", len(expired))
}
