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
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/dfg"
	"github.com/AleutianAI/cpg/identity"
	"github.com/AleutianAI/cpg/syntax"
	"github.com/AleutianAI/cpg/telemetry"
)

// AnalyzerOptions configures the analysis pipeline.
type AnalyzerOptions struct {
	// Workers bounds concurrent routine analyses. Defaults to NumCPU.
	Workers int

	// PathCap bounds CFG path enumeration per routine.
	PathCap int

	// MaxCFGNodes bounds CFG size per routine.
	MaxCFGNodes int

	// SSA enables SSA versioning in the DFG layer.
	SSA bool
}

// DefaultAnalyzerOptions returns the default pipeline configuration.
func DefaultAnalyzerOptions() AnalyzerOptions {
	return AnalyzerOptions{
		Workers:     runtime.NumCPU(),
		PathCap:     cfg.DefaultPathCap,
		MaxCFGNodes: cfg.DefaultMaxNodes,
		SSA:         true,
	}
}

// AnalyzerOption is a functional option for configuring the Analyzer.
type AnalyzerOption func(*AnalyzerOptions)

// WithWorkers bounds concurrent routine analyses.
func WithWorkers(n int) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithPathCap bounds CFG path enumeration.
func WithPathCap(n int) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		if n > 0 {
			o.PathCap = n
		}
	}
}

// WithMaxCFGNodes bounds CFG size per routine.
func WithMaxCFGNodes(n int) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		if n > 0 {
			o.MaxCFGNodes = n
		}
	}
}

// WithSSA toggles SSA versioning in the DFG layer.
func WithSSA(enabled bool) AnalyzerOption {
	return func(o *AnalyzerOptions) {
		o.SSA = enabled
	}
}

// RoutineFailure records one routine whose analysis failed.
type RoutineFailure struct {
	Key syntax.RoutineKey
	Err error
}

// TreeReport summarizes one module analysis.
type TreeReport struct {
	// RunID correlates this analysis run across logs and traces.
	RunID string

	// Module is the analyzed module name.
	Module string

	// Analyzed lists routines stored successfully, sorted by key.
	Analyzed []syntax.RoutineKey

	// Failed lists routines whose analysis failed. Prior versions of
	// those routines stay servable, marked stale.
	Failed []RoutineFailure
}

// Analyzer runs the identity → CFG → DFG → CPG pipeline and stores the
// results.
//
// Thread Safety: Safe for concurrent use.
type Analyzer struct {
	repo    *Repository
	opts    AnalyzerOptions
	cfgB    *cfg.Builder
	dfgB    *dfg.Builder
	cpgB    *cpg.Builder
	logger  *slog.Logger
	pathCap int
}

// NewAnalyzer creates an analyzer writing into the given repository.
func NewAnalyzer(repository *Repository, opts ...AnalyzerOption) *Analyzer {
	o := DefaultAnalyzerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Analyzer{
		repo:    repository,
		opts:    o,
		cfgB:    cfg.NewBuilder(cfg.WithPathCap(o.PathCap), cfg.WithMaxNodes(o.MaxCFGNodes)),
		dfgB:    dfg.NewBuilder(dfg.WithSSA(o.SSA)),
		cpgB:    cpg.NewBuilder(),
		logger:  slog.Default(),
		pathCap: o.PathCap,
	}
}

// AnalyzeTree analyzes every routine of a module tree.
//
// Description:
//
//	Resolves identities for the whole tree, then analyzes routines
//	concurrently, bounded by the worker limit. Failures are isolated:
//	one routine failing does not abort the others, and a routine that
//	previously had a bundle keeps its last good version, marked stale.
//	An identity conflict aborts the whole tree, since the ids of every
//	routine would be suspect.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	tree - The module tree. Must not be nil.
//
// Outputs:
//
//	*TreeReport - Per-routine outcomes. Nil only on resolution failure.
//	error - Identity conflicts and nil inputs; per-routine errors are
//	        in the report, not here.
//
// Thread Safety: Safe for concurrent use on distinct trees.
func (a *Analyzer) AnalyzeTree(ctx context.Context, tree *syntax.Tree) (*TreeReport, error) {
	ctx, span := tracer.Start(ctx, "repo.AnalyzeTree")
	defer span.End()

	res, err := identity.Resolve(ctx, tree)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("module", tree.Module),
		attribute.Int("routine_count", len(res.Routines())),
	)

	report := &TreeReport{RunID: uuid.NewString(), Module: tree.Module}
	span.SetAttributes(attribute.String("run_id", report.RunID))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for _, key := range res.Routines() {
		key := key
		routine, _ := res.Routine(key)
		g.Go(func() error {
			if err := a.AnalyzeRoutine(gctx, key, routine); err != nil {
				a.failRoutine(gctx, key, err)
				mu.Lock()
				report.Failed = append(report.Failed, RoutineFailure{Key: key, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Analyzed = append(report.Analyzed, key)
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only orders completion.
	_ = g.Wait()

	sort.Slice(report.Analyzed, func(i, j int) bool {
		return report.Analyzed[i].String() < report.Analyzed[j].String()
	})
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Key.String() < report.Failed[j].Key.String()
	})

	span.SetAttributes(
		attribute.Int("analyzed", len(report.Analyzed)),
		attribute.Int("failed", len(report.Failed)),
	)
	telemetry.LoggerWithTrace(ctx, a.logger).Info("module analyzed",
		slog.String("run_id", report.RunID),
		slog.String("module", report.Module),
		slog.Int("analyzed", len(report.Analyzed)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// AnalyzeRoutine runs the full pipeline for one resolved routine
// subtree and stores the bundle.
//
// Thread Safety: Safe for concurrent use on distinct routines.
func (a *Analyzer) AnalyzeRoutine(ctx context.Context, key syntax.RoutineKey, routine *syntax.Node) error {
	start := time.Now()

	control, err := a.cfgB.Build(ctx, key, routine)
	if err != nil {
		return fmt.Errorf("cfg: %w", err)
	}
	flow, err := a.dfgB.Build(ctx, key, routine, control)
	if err != nil {
		return fmt.Errorf("dfg: %w", err)
	}
	merged, err := a.cpgB.Build(ctx, key, routine, control, flow)
	if err != nil {
		return fmt.Errorf("cpg: %w", err)
	}

	paths := control.Paths(a.pathCap)
	bundle := &Bundle{
		Key:  key,
		Root: routine,
		CFG:  control,
		DFG:  flow,
		CPG:  merged,
		Metrics: BundleMetrics{
			Cyclomatic:  control.CyclomaticComplexity(),
			CFGNodes:    control.NodeCount(),
			DFGNodes:    flow.NodeCount(),
			CPGNodes:    merged.NodeCount(),
			CPGEdges:    merged.EdgeCount(),
			PathsTotal:  paths.Total,
			PathsCapped: paths.Capped,
		},
	}
	version, err := a.repo.Put(ctx, bundle)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	telemetry.LoggerWithRoutine(ctx, a.logger, key).Debug("routine analyzed",
		slog.Uint64("version", version),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// failRoutine marks the routine's last good bundle stale, if any.
func (a *Analyzer) failRoutine(ctx context.Context, key syntax.RoutineKey, cause error) {
	telemetry.LoggerWithRoutine(ctx, a.logger, key).Warn("routine analysis failed",
		slog.String("error", cause.Error()),
	)
	if err := a.repo.MarkFailed(key); err == nil {
		a.logger.Debug("prior bundle marked stale", slog.String("routine", key.String()))
	}
	recordFailure(ctx)
}
