// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dfg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/syntax"
)

// Options configures the DFG builder.
type Options struct {
	// SSA requests static-single-assignment form: per-def versions and
	// synthetic phi defs at control-flow joins.
	SSA bool
}

// DefaultOptions returns sensible defaults for builder configuration.
func DefaultOptions() Options {
	return Options{SSA: false}
}

// Option is a functional option for configuring the Builder.
type Option func(*Options)

// WithSSA requests or disables SSA form.
func WithSSA(enabled bool) Option {
	return func(o *Options) {
		o.SSA = enabled
	}
}

// Builder constructs data-flow graphs from a routine subtree and its CFG.
//
// Thread Safety: Safe for concurrent use; each Build call uses its own
// transient state.
type Builder struct {
	options Options
	logger  *slog.Logger
}

// NewBuilder creates a DFG builder.
func NewBuilder(opts ...Option) *Builder {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Builder{
		options: options,
		logger:  slog.Default(),
	}
}

// Build constructs the DFG for one routine.
//
// Description:
//
//	Collects def/use events per CFG node, runs iterative reaching-
//	definitions dataflow over the CFG, then links every use to its
//	reaching defs. With SSA requested, joins where several defs of one
//	variable meet get a synthetic phi def, so every use sees exactly one
//	reaching definition and versions are unique per variable.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	key - The routine identity.
//	routine - The KindRoutine subtree with resolved ids. Must not be nil.
//	control - The routine's CFG. Must not be nil.
//
// Outputs:
//
//	*Graph - The built graph. Nil on error.
//	error - ErrInvalidInput or ErrBuildCancelled.
//
// Thread Safety: Safe for concurrent use.
func (b *Builder) Build(ctx context.Context, key syntax.RoutineKey, routine *syntax.Node, control *cfg.Graph) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "dfg.Build")
	defer span.End()
	span.SetAttributes(
		attribute.String("routine", key.String()),
		attribute.Bool("ssa", b.options.SSA),
	)

	if routine == nil || routine.Kind != syntax.KindRoutine || control == nil {
		span.RecordError(ErrInvalidInput)
		span.SetStatus(codes.Error, ErrInvalidInput.Error())
		return nil, ErrInvalidInput
	}

	start := time.Now()
	st := &buildState{
		ssa:     b.options.SSA,
		control: control,
		g: &Graph{
			Routine:  key,
			SSA:      b.options.SSA,
			nodes:    make(map[string]*Node),
			out:      make(map[string][]string),
			in:       make(map[string][]string),
			byVar:    make(map[string][]string),
			bySyntax: make(map[syntax.NodeID][]string),
		},
		events:  make(map[string][]*event),
		gen:     make(map[string]map[string]string),
		kill:    make(map[string]map[string]bool),
		phis:    make(map[string]map[string]*Node),
		unknown: make(map[string]*Node),
	}

	st.collectEvents(routine)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}

	st.computeGenKill()
	st.computeFlow()
	if st.ssa {
		st.insertPhis()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}

	st.link()
	if st.ssa {
		st.assignVersions()
	}

	span.SetAttributes(
		attribute.Int("node_count", st.g.NodeCount()),
		attribute.Int("edge_count", st.g.EdgeCount()),
	)
	recordBuild(ctx, time.Since(start), st.g)
	return st.g, nil
}

// event is one def or use occurrence inside a CFG node, in source order.
type event struct {
	def      bool
	kind     NodeKind
	varName  string
	syntaxID syntax.NodeID

	// node is the def node, created at collection time.
	node *Node
}

type buildState struct {
	ssa     bool
	control *cfg.Graph
	g       *Graph
	seq     int

	events map[string][]*event

	gen  map[string]map[string]string
	kill map[string]map[string]bool

	// inSets/outSets map cfg node id → var → reaching def id set.
	inSets  map[string]map[string]map[string]bool
	outSets map[string]map[string]map[string]bool

	phis    map[string]map[string]*Node
	unknown map[string]*Node

	// syntaxByID is built lazily on first lookup.
	syntaxByID map[syntax.NodeID]*syntax.Node
}

func (st *buildState) newNode(kind NodeKind, varName string, syntaxID syntax.NodeID, cfgID string) *Node {
	n := &Node{
		ID:        "d" + strconv.Itoa(st.seq),
		Kind:      kind,
		Var:       varName,
		SyntaxID:  syntaxID,
		CFGNodeID: cfgID,
	}
	st.seq++
	st.g.nodes[n.ID] = n
	st.g.order = append(st.g.order, n.ID)
	st.g.byVar[varName] = append(st.g.byVar[varName], n.ID)
	if syntaxID != "" {
		st.g.bySyntax[syntaxID] = append(st.g.bySyntax[syntaxID], n.ID)
	}
	return n
}

func (st *buildState) addEdge(from, to string) {
	st.g.edges = append(st.g.edges, &Edge{From: from, To: to})
	st.g.out[from] = append(st.g.out[from], to)
	st.g.in[to] = append(st.g.in[to], from)
}

// collectEvents walks the routine and places def/use events into the
// CFG nodes covering them. Parameter defs attach to the entry node.
func (st *buildState) collectEvents(routine *syntax.Node) {
	for _, c := range routine.Children {
		if c.Kind != syntax.KindParam || c.Label == "" {
			continue
		}
		def := st.newNode(KindParam, c.Label, c.ID, st.control.Entry)
		st.events[st.control.Entry] = append(st.events[st.control.Entry], &event{
			def: true, kind: KindParam, varName: c.Label, syntaxID: c.ID, node: def,
		})
	}

	visited := make(map[syntax.NodeID]bool)
	for _, cfgNode := range st.control.Nodes() {
		for _, rootID := range cfgNode.SyntaxIDs {
			root := st.syntaxNode(routine, rootID)
			if root == nil {
				continue
			}
			st.walkEvents(root, cfgNode.ID, visited)
		}
	}
}

func (st *buildState) syntaxNode(routine *syntax.Node, id syntax.NodeID) *syntax.Node {
	if st.syntaxByID == nil {
		st.syntaxByID = make(map[syntax.NodeID]*syntax.Node)
		syntax.Walk(routine, func(n *syntax.Node) bool {
			st.syntaxByID[n.ID] = n
			return true
		})
	}
	return st.syntaxByID[id]
}

// walkEvents emits events for one covered subtree in evaluation order:
// right-hand sides before the defs they feed. Descendants covered by a
// different CFG node (branch bodies) are skipped; they are visited when
// their own node is processed.
func (st *buildState) walkEvents(n *syntax.Node, cfgID string, visited map[syntax.NodeID]bool) {
	if covering, ok := st.control.Covering(n.ID); !ok || covering != cfgID {
		return
	}
	if visited[n.ID] {
		return
	}
	visited[n.ID] = true

	switch n.Kind {
	case syntax.KindAssign:
		for _, c := range n.Children {
			st.walkEvents(c, cfgID, visited)
		}
		if n.Label == "" {
			return
		}
		def := st.newNode(KindDef, n.Label, n.ID, cfgID)
		st.events[cfgID] = append(st.events[cfgID], &event{
			def: true, kind: KindDef, varName: n.Label, syntaxID: n.ID, node: def,
		})

	case syntax.KindIdent:
		if n.Label == "" {
			return
		}
		st.events[cfgID] = append(st.events[cfgID], &event{
			varName: n.Label, kind: KindUse, syntaxID: n.ID,
		})

	default:
		for _, c := range n.Children {
			st.walkEvents(c, cfgID, visited)
		}
	}
}

// computeGenKill derives per-node gen (last def per variable) and kill
// (defined variables) from the collected events.
func (st *buildState) computeGenKill() {
	for _, cfgNode := range st.control.Nodes() {
		id := cfgNode.ID
		st.gen[id] = make(map[string]string)
		st.kill[id] = make(map[string]bool)
		for _, ev := range st.events[id] {
			if !ev.def {
				continue
			}
			st.gen[id][ev.varName] = ev.node.ID
			st.kill[id][ev.varName] = true
		}
	}
}

// computeFlow runs iterative reaching-definitions dataflow to a fixed point.
func (st *buildState) computeFlow() {
	st.inSets = make(map[string]map[string]map[string]bool)
	st.outSets = make(map[string]map[string]map[string]bool)

	nodes := st.control.Nodes()
	queued := make(map[string]bool, len(nodes))
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		queue = append(queue, n.ID)
		queued[n.ID] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queued[id] = false

		in := make(map[string]map[string]bool)
		for _, e := range st.control.Predecessors(id) {
			for varName, defs := range st.outSets[e.From] {
				if in[varName] == nil {
					in[varName] = make(map[string]bool)
				}
				for d := range defs {
					in[varName][d] = true
				}
			}
		}
		st.inSets[id] = in

		out := make(map[string]map[string]bool)
		for varName, defs := range in {
			if st.kill[id][varName] {
				continue
			}
			out[varName] = defs
		}
		for varName, defID := range st.gen[id] {
			out[varName] = map[string]bool{defID: true}
		}
		// Phi defs lead the node; an explicit def later in the node wins.
		for varName, phi := range st.phis[id] {
			if _, explicit := st.gen[id][varName]; !explicit {
				out[varName] = map[string]bool{phi.ID: true}
			}
		}

		if !flowEqual(st.outSets[id], out) {
			st.outSets[id] = out
			for _, e := range st.control.Successors(id) {
				if !queued[e.To] {
					queued[e.To] = true
					queue = append(queue, e.To)
				}
			}
		}
	}
}

// insertPhis places synthetic merge defs at joins where several defs of
// one variable meet, re-running dataflow until no new phis appear.
func (st *buildState) insertPhis() {
	for {
		added := false
		for _, cfgNode := range st.control.Nodes() {
			if len(st.control.Predecessors(cfgNode.ID)) < 2 {
				continue
			}
			vars := make([]string, 0)
			for varName, defs := range st.inSets[cfgNode.ID] {
				if len(defs) >= 2 {
					vars = append(vars, varName)
				}
			}
			sort.Strings(vars)
			for _, varName := range vars {
				if st.phis[cfgNode.ID][varName] != nil {
					continue
				}
				phi := st.newNode(KindPhi, varName, "", cfgNode.ID)
				if st.phis[cfgNode.ID] == nil {
					st.phis[cfgNode.ID] = make(map[string]*Node)
				}
				st.phis[cfgNode.ID][varName] = phi
				added = true
			}
		}
		if !added {
			return
		}
		st.computeFlow()
	}
}

// link creates use nodes and def→use edges from the fixed-point sets.
func (st *buildState) link() {
	for _, cfgNode := range st.control.Nodes() {
		id := cfgNode.ID

		reaching := make(map[string][]string)
		for varName, defs := range st.inSets[id] {
			reaching[varName] = sortedKeys(defs)
		}

		// Phis consume the incoming defs and become the sole reaching def.
		phiVars := make([]string, 0, len(st.phis[id]))
		for varName := range st.phis[id] {
			phiVars = append(phiVars, varName)
		}
		sort.Strings(phiVars)
		for _, varName := range phiVars {
			phi := st.phis[id][varName]
			for _, defID := range reaching[varName] {
				st.addEdge(defID, phi.ID)
			}
			reaching[varName] = []string{phi.ID}
		}

		for _, ev := range st.events[id] {
			if ev.def {
				reaching[ev.varName] = []string{ev.node.ID}
				continue
			}
			defs := reaching[ev.varName]
			if len(defs) == 0 {
				defs = []string{st.unknownFor(ev.varName).ID}
			}
			use := st.newNode(KindUse, ev.varName, ev.syntaxID, id)
			for _, d := range defs {
				st.addEdge(d, use.ID)
			}
		}
	}
}

// unknownFor returns the per-variable unknown-source def, creating it on
// first demand. Unresolvable reads link here instead of failing the build.
func (st *buildState) unknownFor(varName string) *Node {
	if n, ok := st.unknown[varName]; ok {
		return n
	}
	n := st.newNode(KindUnknown, varName, "", st.control.Entry)
	st.unknown[varName] = n
	return n
}

// assignVersions numbers every definition with a strictly increasing
// per-variable counter in creation order.
func (st *buildState) assignVersions() {
	counters := make(map[string]int)
	for _, id := range st.g.order {
		n := st.g.nodes[id]
		if !n.IsDef() {
			continue
		}
		counters[n.Var]++
		n.Version = counters[n.Var]
	}
	// Uses inherit the version of their single reaching def.
	for _, id := range st.g.order {
		n := st.g.nodes[id]
		if n.Kind != KindUse {
			continue
		}
		if preds := st.g.in[id]; len(preds) == 1 {
			n.Version = st.g.nodes[preds[0]].Version
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func flowEqual(a, b map[string]map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for varName, defs := range a {
		other, ok := b[varName]
		if !ok || len(other) != len(defs) {
			return false
		}
		for d := range defs {
			if !other[d] {
				return false
			}
		}
	}
	return true
}
