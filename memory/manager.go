// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory tracks the bytes held by derived analysis artifacts
// (query fragments, pattern match caches) and evicts them under
// pressure, least recently used first.
package memory

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/cpg/syntax"
)

// Default pressure thresholds as fractions of the byte limit.
const (
	// DefaultLimitBytes is the default budget for derived artifacts.
	DefaultLimitBytes = 256 << 20

	// DefaultHighWater starts LRU eviction.
	DefaultHighWater = 0.80

	// DefaultCritical additionally asks the repository to shed cold
	// bundles via the registered evictor.
	DefaultCritical = 0.95
)

// VersionTag identifies the bundle version an artifact was derived
// from. A new version of the routine invalidates every artifact tagged
// with an older one.
type VersionTag struct {
	Key     syntax.RoutineKey
	Version uint64
}

// BundleEvictor is asked to release roughly needBytes from outside the
// manager (cold bundles in the repository). It returns the bytes it
// actually released.
type BundleEvictor func(ctx context.Context, needBytes int64) int64

// Options configures a Manager.
type Options struct {
	// LimitBytes is the artifact byte budget. Must be > 0.
	LimitBytes int64

	// HighWater is the fraction of LimitBytes at which LRU eviction
	// starts. Must be in (0, 1].
	HighWater float64

	// Critical is the fraction at which the bundle evictor is also
	// invoked. Must be >= HighWater.
	Critical float64
}

// DefaultOptions returns the default manager configuration.
func DefaultOptions() Options {
	return Options{
		LimitBytes: DefaultLimitBytes,
		HighWater:  DefaultHighWater,
		Critical:   DefaultCritical,
	}
}

// Option is a functional option for configuring the Manager.
type Option func(*Options)

// WithLimitBytes sets the artifact byte budget.
func WithLimitBytes(limit int64) Option {
	return func(o *Options) {
		if limit > 0 {
			o.LimitBytes = limit
		}
	}
}

// WithThresholds sets the high-water and critical fractions.
func WithThresholds(highWater, critical float64) Option {
	return func(o *Options) {
		if highWater > 0 && highWater <= 1 && critical >= highWater && critical <= 1 {
			o.HighWater = highWater
			o.Critical = critical
		}
	}
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	UsedBytes  int64
	LimitBytes int64
	Entries    int
	Evictions  int64
	Rejected   int64
}

// entry holds one tracked artifact in the LRU list.
type entry struct {
	id    string
	owner VersionTag
	size  int64
	value any
}

// Manager is the byte accountant for derived artifacts.
//
// Description:
//
//	Each Put records an artifact with its size and owning bundle
//	version. When usage crosses the high-water mark, least recently
//	used artifacts are evicted until usage drops below it. At the
//	critical mark the registered bundle evictor is asked to release
//	bytes from outside the manager as well. Version bumps invalidate
//	all artifacts tagged with older versions of the routine.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // Front = most recent, Back = least recent
	byOwner map[VersionTag]map[string]bool
	used    int64

	evictorMu sync.RWMutex
	evictor   BundleEvictor

	evictions atomic.Int64
	rejected  atomic.Int64
}

// NewManager creates a manager with the given options.
func NewManager(opts ...Option) *Manager {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		opts:    o,
		logger:  slog.Default(),
		items:   make(map[string]*list.Element),
		order:   list.New(),
		byOwner: make(map[VersionTag]map[string]bool),
	}
}

// RegisterBundleEvictor registers the callback invoked at critical
// pressure. Only one evictor is held; a later call replaces it.
func (m *Manager) RegisterBundleEvictor(fn BundleEvictor) {
	m.evictorMu.Lock()
	defer m.evictorMu.Unlock()
	m.evictor = fn
}

// Put tracks an artifact. An artifact larger than the whole budget is
// rejected rather than evicting everything else.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) Put(ctx context.Context, id string, owner VersionTag, size int64, value any) bool {
	if size <= 0 || size > m.opts.LimitBytes {
		m.rejected.Add(1)
		recordRejected()
		return false
	}

	m.maybeShedBundles(ctx, size)

	m.mu.Lock()
	if elem, ok := m.items[id]; ok {
		m.removeLocked(elem, "replaced")
	}
	e := &entry{id: id, owner: owner, size: size, value: value}
	m.items[id] = m.order.PushFront(e)
	if m.byOwner[owner] == nil {
		m.byOwner[owner] = make(map[string]bool)
	}
	m.byOwner[owner][id] = true
	m.used += size

	evicted := m.evictToHighWaterLocked()
	used, entries := m.used, len(m.items)
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("memory pressure eviction",
			slog.Int("evicted", evicted),
			slog.Int64("used_bytes", used),
		)
	}
	recordUsage(used, entries)
	return true
}

// Get returns a tracked artifact and marks it recently used.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) Get(id string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[id]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

// InvalidateOwner drops every artifact tagged with exactly this owner
// version. Returns the number of artifacts dropped.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) InvalidateOwner(owner VersionTag) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byOwner[owner]
	n := 0
	for id := range ids {
		if elem, ok := m.items[id]; ok {
			m.removeLocked(elem, "owner_invalidated")
			n++
		}
	}
	recordUsage(m.used, len(m.items))
	return n
}

// InvalidateBelow drops every artifact of the routine tagged with a
// version older than the given one. Called on version bumps.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) InvalidateBelow(key syntax.RoutineKey, version uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for owner, ids := range m.byOwner {
		if owner.Key != key || owner.Version >= version {
			continue
		}
		for id := range ids {
			if elem, ok := m.items[id]; ok {
				m.removeLocked(elem, "owner_invalidated")
				n++
			}
		}
	}
	recordUsage(m.used, len(m.items))
	return n
}

// Stats returns current usage and counters.
//
// Thread Safety: Safe for concurrent use.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	used, entries := m.used, len(m.items)
	m.mu.Unlock()
	return Stats{
		UsedBytes:  used,
		LimitBytes: m.opts.LimitBytes,
		Entries:    entries,
		Evictions:  m.evictions.Load(),
		Rejected:   m.rejected.Load(),
	}
}

// maybeShedBundles invokes the bundle evictor when the incoming
// artifact would push usage past the critical mark. The evictor runs
// outside the manager lock; it may call back into the manager.
func (m *Manager) maybeShedBundles(ctx context.Context, incoming int64) {
	critical := int64(float64(m.opts.LimitBytes) * m.opts.Critical)

	m.mu.Lock()
	projected := m.used + incoming
	m.mu.Unlock()
	if projected <= critical {
		return
	}

	m.evictorMu.RLock()
	evictor := m.evictor
	m.evictorMu.RUnlock()
	if evictor == nil {
		return
	}

	need := projected - critical
	released := evictor(ctx, need)
	m.logger.Info("critical memory pressure",
		slog.Int64("need_bytes", need),
		slog.Int64("released_bytes", released),
	)
	recordPressure(released)
}

// evictToHighWaterLocked evicts LRU entries until usage is at or below
// the high-water mark. Caller must hold the lock.
func (m *Manager) evictToHighWaterLocked() int {
	highWater := int64(float64(m.opts.LimitBytes) * m.opts.HighWater)
	n := 0
	for m.used > highWater {
		elem := m.order.Back()
		if elem == nil {
			break
		}
		m.removeLocked(elem, "lru")
		n++
	}
	return n
}

// removeLocked removes an entry from the list, index, and owner index.
// Caller must hold the lock.
func (m *Manager) removeLocked(elem *list.Element, reason string) {
	e := elem.Value.(*entry)
	m.order.Remove(elem)
	delete(m.items, e.id)
	if ids := m.byOwner[e.owner]; ids != nil {
		delete(ids, e.id)
		if len(ids) == 0 {
			delete(m.byOwner, e.owner)
		}
	}
	m.used -= e.size
	m.evictions.Add(1)
	recordEviction(reason)
}
