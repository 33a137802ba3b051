// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repo

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/cpg/memory"
	"github.com/AleutianAI/cpg/syntax"
)

// slot holds one routine's current bundle. The mutex serializes
// writers; readers only touch the atomic pointer.
type slot struct {
	mu      sync.Mutex
	current atomic.Pointer[Bundle]
}

// Repository is the concurrent, versioned bundle store.
//
// Description:
//
//	Stores one bundle per routine key. Writers to the same key
//	serialize on the key's slot mutex; writers to different keys run
//	in parallel. Readers never block: Get loads an atomic pointer.
//	Put resolves the new bundle's call sites against bundles already
//	present and, copy-on-write, resolves the pending sites of callers
//	that were waiting for this routine, bumping each such caller's
//	version.
//
// Thread Safety: All methods are safe for concurrent use. No method
// holds two slot mutexes at once.
type Repository struct {
	mu        sync.RWMutex
	slots     map[syntax.RoutineKey]*slot
	nodeIndex map[syntax.NodeID]syntax.RoutineKey

	// pending maps callee key → callers waiting on it; waiting is the
	// reverse index for cleanup on re-put and delete.
	pendingMu sync.Mutex
	pending   map[syntax.RoutineKey]map[syntax.RoutineKey]bool
	waiting   map[syntax.RoutineKey]map[syntax.RoutineKey]bool

	mem    *memory.Manager
	logger *slog.Logger
}

// RepositoryOption is a functional option for configuring the Repository.
type RepositoryOption func(*Repository)

// WithMemoryManager attaches the artifact memory manager. Version bumps
// invalidate derived artifacts through it, and the repository registers
// itself as the bundle evictor for critical pressure.
func WithMemoryManager(mem *memory.Manager) RepositoryOption {
	return func(r *Repository) {
		r.mem = mem
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger *slog.Logger) RepositoryOption {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository creates an empty repository.
func NewRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		slots:     make(map[syntax.RoutineKey]*slot),
		nodeIndex: make(map[syntax.NodeID]syntax.RoutineKey),
		pending:   make(map[syntax.RoutineKey]map[syntax.RoutineKey]bool),
		waiting:   make(map[syntax.RoutineKey]map[syntax.RoutineKey]bool),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mem != nil {
		r.mem.RegisterBundleEvictor(r.shedStaleBundles)
	}
	return r
}

// Put stores a bundle, bumping the routine's version.
//
// Description:
//
//	Assigns version old+1 (1 for a new routine), resolves the bundle's
//	call sites against routines already present, publishes it with one
//	atomic pointer swap, then resolves the pending call sites of
//	callers that were waiting on this routine. Each such caller gets a
//	cloned CPG with the site resolved, its call edge materialized, and
//	a bumped version, so readers of the caller either see the old
//	bundle or the new one, never a half-resolved state. Callees stored
//	concurrently during the publish are caught by a final recheck.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	b - The bundle. Key, Root, CFG, DFG, and CPG must be set. The
//	    repository owns it after the call.
//
// Outputs:
//
//	uint64 - The stored version.
//	error - ErrInvalidBundle for incomplete bundles.
//
// Thread Safety: Safe for concurrent use; puts to the same key
// serialize, puts to different keys run in parallel.
func (r *Repository) Put(ctx context.Context, b *Bundle) (uint64, error) {
	ctx, span := tracer.Start(ctx, "repo.Put")
	defer span.End()

	if b == nil || b.Key.IsZero() || b.Root == nil || b.CFG == nil || b.DFG == nil || b.CPG == nil {
		span.RecordError(ErrInvalidBundle)
		span.SetStatus(codes.Error, ErrInvalidBundle.Error())
		return 0, ErrInvalidBundle
	}
	span.SetAttributes(attribute.String("routine", b.Key.String()))

	unresolved := r.resolveOwnCalls(b)
	b.Metrics.ApproxBytes = approxBundleBytes(b)

	s := r.slot(b.Key)
	s.mu.Lock()
	var old *Bundle
	if old = s.current.Load(); old != nil {
		b.Version = old.Version + 1
	} else {
		b.Version = 1
	}
	b.BuiltAtMilli = time.Now().UnixMilli()
	b.Stale = false
	s.current.Store(b)
	s.mu.Unlock()

	r.reindexNodes(old, b)
	r.setWaits(b.Key, unresolved)
	r.resolveWaiters(ctx, b.Key)
	r.recheckPending(ctx, b.Key, unresolved)

	if r.mem != nil {
		r.mem.InvalidateBelow(b.Key, b.Version)
	}

	span.SetAttributes(
		attribute.Int64("version", int64(b.Version)),
		attribute.Int("unresolved_calls", len(unresolved)),
	)
	recordPut(ctx, b)
	return b.Version, nil
}

// Get returns the current bundle for a key.
//
// Thread Safety: Safe for concurrent use; never blocks on writers.
func (r *Repository) Get(key syntax.RoutineKey) (*Bundle, error) {
	r.mu.RLock()
	s, ok := r.slots[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	b := s.current.Load()
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

// GetNodeContext returns the routine bundle containing a syntax node.
//
// Thread Safety: Safe for concurrent use.
func (r *Repository) GetNodeContext(id syntax.NodeID) (syntax.RoutineKey, *Bundle, error) {
	r.mu.RLock()
	key, ok := r.nodeIndex[id]
	r.mu.RUnlock()
	if !ok {
		return syntax.RoutineKey{}, nil, ErrNotFound
	}
	b, err := r.Get(key)
	if err != nil {
		return syntax.RoutineKey{}, nil, err
	}
	return key, b, nil
}

// Delete removes a routine's bundle and its index entries.
//
// Thread Safety: Safe for concurrent use.
func (r *Repository) Delete(key syntax.RoutineKey) error {
	r.mu.Lock()
	s, ok := r.slots[key]
	if ok {
		delete(r.slots, key)
		if b := s.current.Load(); b != nil {
			for _, n := range b.CPG.Nodes() {
				delete(r.nodeIndex, n.SyntaxID)
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	r.setWaits(key, nil)
	if r.mem != nil {
		r.mem.InvalidateBelow(key, ^uint64(0))
	}
	return nil
}

// MarkFailed flags the routine's current bundle as stale after a failed
// rebuild. The version does not change; the last good data stays
// servable.
//
// Thread Safety: Safe for concurrent use.
func (r *Repository) MarkFailed(key syntax.RoutineKey) error {
	r.mu.RLock()
	s, ok := r.slots[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current.Load()
	if old == nil {
		return ErrNotFound
	}
	if old.Stale {
		return nil
	}
	stale := *old
	stale.Stale = true
	s.current.Store(&stale)
	return nil
}

// Stats summarizes the repository contents.
//
// Thread Safety: Safe for concurrent use.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	st := Stats{}
	for _, s := range slots {
		b := s.current.Load()
		if b == nil {
			continue
		}
		st.Routines++
		if b.Stale {
			st.Stale++
		}
		st.ApproxBytes += b.Metrics.ApproxBytes
	}

	r.pendingMu.Lock()
	st.PendingCallees = len(r.pending)
	r.pendingMu.Unlock()
	return st
}

// Snapshot captures the current bundle of every routine. Each key is
// read atomically; the set as a whole is not a global cut.
//
// Thread Safety: Safe for concurrent use.
func (r *Repository) Snapshot() *Snapshot {
	r.mu.RLock()
	keys := make([]syntax.RoutineKey, 0, len(r.slots))
	slots := make([]*slot, 0, len(r.slots))
	for k, s := range r.slots {
		keys = append(keys, k)
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	bundles := make(map[syntax.RoutineKey]*Bundle, len(keys))
	for i, k := range keys {
		if b := slots[i].current.Load(); b != nil {
			bundles[k] = b
		}
	}
	return newSnapshot(bundles)
}

// slot returns the slot for a key, creating it if absent.
func (r *Repository) slot(key syntax.RoutineKey) *slot {
	r.mu.RLock()
	s, ok := r.slots[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.slots[key]; ok {
		return s
	}
	s = &slot{}
	r.slots[key] = s
	return s
}

// resolveOwnCalls resolves the bundle's call sites whose callees
// already have a bundle (or are the bundle's own key, for
// self-recursion), materializing their call edges, and returns the
// callee keys still unresolved. The bundle is unpublished; no lock is
// needed to mutate it.
func (r *Repository) resolveOwnCalls(b *Bundle) []syntax.RoutineKey {
	seen := make(map[syntax.RoutineKey]bool)
	unresolved := make([]syntax.RoutineKey, 0)
	for _, c := range b.CPG.PendingCalls() {
		if seen[c.Callee] {
			continue
		}
		seen[c.Callee] = true
		if c.Callee == b.Key {
			b.CPG.ResolveCallee(c.Callee)
			continue
		}
		if _, err := r.Get(c.Callee); err == nil {
			b.CPG.ResolveCallee(c.Callee)
			continue
		}
		unresolved = append(unresolved, c.Callee)
	}
	return unresolved
}

// reindexNodes replaces the caller's node index entries. Old ids not
// present in the new bundle are removed.
func (r *Repository) reindexNodes(old, b *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old != nil {
		for _, n := range old.CPG.Nodes() {
			delete(r.nodeIndex, n.SyntaxID)
		}
	}
	for _, n := range b.CPG.Nodes() {
		r.nodeIndex[n.SyntaxID] = b.Key
	}
}

// setWaits replaces the caller's pending registrations with the given
// callee set. Nil clears them.
func (r *Repository) setWaits(caller syntax.RoutineKey, callees []syntax.RoutineKey) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	for callee := range r.waiting[caller] {
		if callers := r.pending[callee]; callers != nil {
			delete(callers, caller)
			if len(callers) == 0 {
				delete(r.pending, callee)
			}
		}
	}
	delete(r.waiting, caller)

	if len(callees) == 0 {
		return
	}
	waits := make(map[syntax.RoutineKey]bool, len(callees))
	for _, callee := range callees {
		waits[callee] = true
		if r.pending[callee] == nil {
			r.pending[callee] = make(map[syntax.RoutineKey]bool)
		}
		r.pending[callee][caller] = true
	}
	r.waiting[caller] = waits
}

// resolveWaiters resolves the pending call sites of every caller that
// was waiting on the newly stored callee. Each caller is updated
// copy-on-write under its own slot lock; no two slot locks are ever
// held together.
func (r *Repository) resolveWaiters(ctx context.Context, callee syntax.RoutineKey) {
	r.pendingMu.Lock()
	callers := make([]syntax.RoutineKey, 0, len(r.pending[callee]))
	for caller := range r.pending[callee] {
		callers = append(callers, caller)
		delete(r.waiting[caller], callee)
		if len(r.waiting[caller]) == 0 {
			delete(r.waiting, caller)
		}
	}
	delete(r.pending, callee)
	r.pendingMu.Unlock()

	sort.Slice(callers, func(i, j int) bool {
		return callers[i].String() < callers[j].String()
	})
	for _, caller := range callers {
		r.resolveCallerSites(ctx, caller, callee)
	}
}

// recheckPending re-checks unresolved callees after the waits are
// registered. A callee stored between the pre-publish check and
// setWaits has already run its waiter resolution without seeing this
// caller; any callee present now is resolved copy-on-write here.
func (r *Repository) recheckPending(ctx context.Context, caller syntax.RoutineKey, callees []syntax.RoutineKey) {
	for _, callee := range callees {
		if _, err := r.Get(callee); err != nil {
			continue
		}
		r.clearWait(caller, callee)
		r.resolveCallerSites(ctx, caller, callee)
	}
}

// clearWait removes one caller's registration against one callee.
func (r *Repository) clearWait(caller, callee syntax.RoutineKey) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if callers := r.pending[callee]; callers != nil {
		delete(callers, caller)
		if len(callers) == 0 {
			delete(r.pending, callee)
		}
	}
	if waits := r.waiting[caller]; waits != nil {
		delete(waits, callee)
		if len(waits) == 0 {
			delete(r.waiting, caller)
		}
	}
}

// resolveCallerSites clones the caller's CPG, marks the sites calling
// the callee resolved, and publishes the caller at a bumped version.
func (r *Repository) resolveCallerSites(ctx context.Context, caller, callee syntax.RoutineKey) {
	r.mu.RLock()
	s, ok := r.slots[caller]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	old := s.current.Load()
	if old == nil {
		s.mu.Unlock()
		return
	}
	updated := *old
	updated.CPG = old.CPG.Clone()
	if !updated.CPG.ResolveCallee(callee) {
		s.mu.Unlock()
		return
	}
	updated.Version = old.Version + 1
	s.current.Store(&updated)
	version := updated.Version
	s.mu.Unlock()

	if r.mem != nil {
		r.mem.InvalidateBelow(caller, version)
	}
	r.logger.Debug("resolved deferred call edges",
		slog.String("caller", caller.String()),
		slog.String("callee", callee.String()),
		slog.Uint64("caller_version", version),
	)
	recordResolution(ctx)
}

// shedStaleBundles is the bundle evictor registered with the memory
// manager. Only stale bundles are dropped; fresh bundles are the
// authoritative analysis state and never shed for cache pressure.
func (r *Repository) shedStaleBundles(ctx context.Context, needBytes int64) int64 {
	r.mu.RLock()
	type candidate struct {
		key syntax.RoutineKey
		b   *Bundle
	}
	stale := make([]candidate, 0)
	for k, s := range r.slots {
		if b := s.current.Load(); b != nil && b.Stale {
			stale = append(stale, candidate{key: k, b: b})
		}
	}
	r.mu.RUnlock()

	// Oldest first.
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].b.BuiltAtMilli < stale[j].b.BuiltAtMilli
	})

	var released int64
	for _, c := range stale {
		if released >= needBytes {
			break
		}
		if r.deleteIfStale(c.key, c.b.Version) {
			released += c.b.Metrics.ApproxBytes
		}
	}
	if released > 0 {
		r.logger.Info("shed stale bundles under memory pressure",
			slog.Int64("released_bytes", released),
		)
	}
	return released
}

// deleteIfStale removes a routine's bundle only if it is still the
// stale version the caller observed. A fresh Put in between wins.
func (r *Repository) deleteIfStale(key syntax.RoutineKey, version uint64) bool {
	r.mu.Lock()
	s, ok := r.slots[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	s.mu.Lock()
	b := s.current.Load()
	if b == nil || !b.Stale || b.Version != version {
		s.mu.Unlock()
		r.mu.Unlock()
		return false
	}
	delete(r.slots, key)
	for _, n := range b.CPG.Nodes() {
		delete(r.nodeIndex, n.SyntaxID)
	}
	s.mu.Unlock()
	r.mu.Unlock()

	r.setWaits(key, nil)
	if r.mem != nil {
		r.mem.InvalidateBelow(key, ^uint64(0))
	}
	return true
}
