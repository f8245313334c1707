// Package graph answers structural questions over the call/type graph
// persisted by internal/store: who calls what, what breaks if a function
// changes, how two functions are connected, and what looks unreachable.
//
// The adjacency itself is loaded from the store into a
// github.com/dominikbraun/graph directed graph. Shortest-path search uses
// that library; the depth-bounded impact BFS walks the graph's adjacency
// map with its own queue.
package graph

import (
	"context"
	"fmt"
	"sort"

	dgraph "github.com/dominikbraun/graph"

	"github.com/jamie8johnson/cqs/internal/store"
)

// The Min*Depth and Max*Depth constants bound every depth parameter
// accepted by this package; RelatedTopN is Related's default list length.
const (
	MinImpactDepth = 1
	MaxImpactDepth = 10
	MinTraceDepth  = 1
	MaxTraceDepth  = 50
	RelatedTopN    = 10
)

// Graph wraps a store's call/type edges with BFS-based analyses.
type Graph struct {
	store   *store.Store
	forward dgraph.Graph[string, string]
	reverse dgraph.Graph[string, string]
}

// Load builds a Graph from the current state of the store's call edges.
// Call it once per query; the underlying store is the source of truth and
// may have changed since the last Load.
func Load(ctx context.Context, st *store.Store) (*Graph, error) {
	fwdAdj, revAdj, err := st.GetCallGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("load call graph: %w", err)
	}

	fwd := dgraph.New(dgraph.StringHash, dgraph.Directed())
	rev := dgraph.New(dgraph.StringHash, dgraph.Directed())
	addEdges(fwd, fwdAdj)
	addEdges(rev, revAdj)

	return &Graph{store: st, forward: fwd, reverse: rev}, nil
}

func addEdges(g dgraph.Graph[string, string], adj map[string][]string) {
	for from, tos := range adj {
		_ = g.AddVertex(from)
		for _, to := range tos {
			_ = g.AddVertex(to)
			_ = g.AddEdge(from, to)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Callers returns the direct caller edges into name.
func (g *Graph) Callers(ctx context.Context, name string) ([]store.FunctionCall, error) {
	return g.store.GetCallersFull(ctx, name)
}

// Callees returns the direct callee edges out of name, optionally scoped
// to file to disambiguate same-named functions.
func (g *Graph) Callees(ctx context.Context, name, file string) ([]store.FunctionCall, error) {
	return g.store.GetCalleesFull(ctx, name, file)
}

// ImpactedCaller is one node discovered during a reverse BFS from the
// impact target.
type ImpactedCaller struct {
	Name  string
	Depth int
}

// AffectedTest is an ImpactedCaller whose name matches test conventions,
// with the chain of calls from the target to the test.
type AffectedTest struct {
	ImpactedCaller
	CallChain []string
}

// ImpactResult is the outcome of a reverse-BFS impact analysis.
type ImpactResult struct {
	Direct            []ImpactedCaller
	Transitive        []ImpactedCaller
	AffectedTests     []AffectedTest
	TypeImpacted      []string
	ExpansionCapped   bool
}

// maxImpactNodes bounds how many nodes a single impact walk will visit.
const maxImpactNodes = 200

// Impact runs a reverse BFS from target (who calls this, transitively) up
// to depth hops, clamped to [MinImpactDepth, MaxImpactDepth]. isTestName
// classifies caller names as tests for the AffectedTests list.
func (g *Graph) Impact(ctx context.Context, target string, depth int, includeTypeImpact bool, isTestName func(string) bool) (*ImpactResult, error) {
	depth = clamp(depth, MinImpactDepth, MaxImpactDepth)
	result := &ImpactResult{}

	if _, err := g.reverse.Vertex(target); err != nil {
		// Target has no recorded callers; nothing to walk.
		if includeTypeImpact {
			typed, err := g.typeImpacted(ctx, target)
			if err != nil {
				return nil, err
			}
			result.TypeImpacted = typed
		}
		return result, nil
	}

	type frame struct {
		name  string
		depth int
		chain []string
	}
	visited := map[string]int{target: 0}
	queue := []frame{{name: target, depth: 0, chain: []string{target}}}
	visitedCount := 1

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}
		preds, err := g.reverse.AdjacencyMap()
		if err != nil {
			return nil, fmt.Errorf("read adjacency: %w", err)
		}
		for next := range preds[cur.name] {
			if visitedCount >= maxImpactNodes {
				result.ExpansionCapped = true
				break
			}
			if _, seen := visited[next]; seen {
				continue
			}
			nextDepth := cur.depth + 1
			visited[next] = nextDepth
			visitedCount++
			chain := append(append([]string{}, cur.chain...), next)
			queue = append(queue, frame{name: next, depth: nextDepth, chain: chain})

			ic := ImpactedCaller{Name: next, Depth: nextDepth}
			if nextDepth == 1 {
				result.Direct = append(result.Direct, ic)
			} else {
				result.Transitive = append(result.Transitive, ic)
			}
			if isTestName != nil && isTestName(next) {
				// Reverse the chain so it reads target -> ... -> test.
				reversed := make([]string, len(chain))
				for i, n := range chain {
					reversed[len(chain)-1-i] = n
				}
				result.AffectedTests = append(result.AffectedTests, AffectedTest{
					ImpactedCaller: ic,
					CallChain:      reversed,
				})
			}
		}
	}

	sortByDepthThenName(result.Direct)
	sortByDepthThenName(result.Transitive)

	if includeTypeImpact {
		typed, err := g.typeImpacted(ctx, target)
		if err != nil {
			return nil, err
		}
		result.TypeImpacted = typed
	}

	return result, nil
}

func sortByDepthThenName(items []ImpactedCaller) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Depth != items[j].Depth {
			return items[i].Depth < items[j].Depth
		}
		return items[i].Name < items[j].Name
	})
}

// typeImpacted finds functions that use any type the target defines, or
// whose parameters share a custom type with the target.
func (g *Graph) typeImpacted(ctx context.Context, target string) ([]string, error) {
	chunks, err := g.store.GetChunksByNames(ctx, []string{target})
	if err != nil {
		return nil, fmt.Errorf("resolve target chunk: %w", err)
	}
	targets := chunks[target]
	if len(targets) == 0 {
		return nil, nil
	}

	seen := map[string]struct{}{}
	var names []string
	for _, t := range targets {
		refs, err := g.store.GetTypeRefsByType(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("type refs for %s: %w", t.Name, err)
		}
		for _, r := range refs {
			byChunk, err := g.store.GetChunks(ctx, []string{r.ReferrerChunkID})
			if err != nil {
				continue
			}
			for _, c := range byChunk {
				if c.Name == target {
					continue
				}
				if _, ok := seen[c.Name]; ok {
					continue
				}
				seen[c.Name] = struct{}{}
				names = append(names, c.Name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// TracedNode is one hop on a Trace path, resolved to file/line where
// possible.
type TracedNode struct {
	Name   string
	Origin string
	Line   int
}

// Trace finds the shortest forward path from -> to, up to maxDepth hops
// (clamped [MinTraceDepth, MaxTraceDepth]).
func (g *Graph) Trace(ctx context.Context, from, to string, maxDepth int) ([]TracedNode, error) {
	maxDepth = clamp(maxDepth, MinTraceDepth, MaxTraceDepth)

	path, err := dgraph.ShortestPath(g.forward, from, to)
	if err != nil {
		// dominikbraun/graph returns an error both for an unreachable
		// target and for a missing vertex; either way there's no path.
		return nil, nil
	}
	if len(path) == 0 || len(path)-1 > maxDepth {
		return nil, nil
	}

	byName, err := g.store.GetChunksByNames(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolve trace nodes: %w", err)
	}

	nodes := make([]TracedNode, len(path))
	for i, name := range path {
		nodes[i] = TracedNode{Name: name}
		if chunks := byName[name]; len(chunks) > 0 {
			nodes[i].Origin = chunks[0].Origin
			nodes[i].Line = chunks[0].LineStart
		}
	}
	return nodes, nil
}

// TestMapEntry is a test discovered during a test-map reverse BFS, with
// its call chain back to the target.
type TestMapEntry struct {
	Name      string
	CallChain []string
}

// TestMap runs a reverse BFS from target keeping only nodes that look
// like tests, recording each one's call chain back to the target.
func (g *Graph) TestMap(ctx context.Context, target string, isTestName func(string) bool) ([]TestMapEntry, error) {
	impact, err := g.Impact(ctx, target, MaxImpactDepth, false, isTestName)
	if err != nil {
		return nil, err
	}
	entries := make([]TestMapEntry, 0, len(impact.AffectedTests))
	for _, t := range impact.AffectedTests {
		entries = append(entries, TestMapEntry{Name: t.Name, CallChain: t.CallChain})
	}
	return entries, nil
}

// RelatedResult groups functions related to a target by three kinds of
// structural overlap.
type RelatedResult struct {
	SharedCallers []RelatedItem
	SharedCallees []RelatedItem
	SharedTypes   []RelatedItem
}

// RelatedItem is a candidate with its overlap count, for top-N ranking.
type RelatedItem struct {
	Name    string
	Overlap int
}

// Related reports, for a given function, other functions that share
// callers, callees, or referenced types, each as a top-N list by overlap
// count with ties broken by name.
func (g *Graph) Related(ctx context.Context, target string, topN int) (*RelatedResult, error) {
	if topN <= 0 {
		topN = RelatedTopN
	}

	callers, err := g.store.GetCallersFull(ctx, target)
	if err != nil {
		return nil, err
	}
	callees, err := g.store.GetCalleesFull(ctx, target, "")
	if err != nil {
		return nil, err
	}

	sharedCallers, err := g.overlapOn(ctx, target, names(callers, func(c store.FunctionCall) string { return c.Caller }), true)
	if err != nil {
		return nil, err
	}
	sharedCallees, err := g.overlapOn(ctx, target, names(callees, func(c store.FunctionCall) string { return c.Callee }), false)
	if err != nil {
		return nil, err
	}
	sharedTypes, err := g.sharedTypes(ctx, target)
	if err != nil {
		return nil, err
	}

	return &RelatedResult{
		SharedCallers: topNItems(sharedCallers, topN),
		SharedCallees: topNItems(sharedCallees, topN),
		SharedTypes:   topNItems(sharedTypes, topN),
	}, nil
}

func names(calls []store.FunctionCall, pick func(store.FunctionCall) string) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = pick(c)
	}
	return out
}

// overlapOn counts, for each peer reachable via the same caller (reverse)
// or callee (forward) set as target, how many of those edges it shares
// with target.
func (g *Graph) overlapOn(ctx context.Context, target string, sharedWith []string, viaCallers bool) (map[string]int, error) {
	overlap := map[string]int{}
	for _, peerSource := range sharedWith {
		var peers []store.FunctionCall
		var err error
		if viaCallers {
			peers, err = g.store.GetCalleesFull(ctx, peerSource, "")
		} else {
			peers, err = g.store.GetCallersFull(ctx, peerSource)
		}
		if err != nil {
			return nil, err
		}
		for _, p := range peers {
			name := p.Callee
			if !viaCallers {
				name = p.Caller
			}
			if name == target {
				continue
			}
			overlap[name]++
		}
	}
	return overlap, nil
}

func (g *Graph) sharedTypes(ctx context.Context, target string) (map[string]int, error) {
	chunks, err := g.store.GetChunksByNames(ctx, []string{target})
	if err != nil {
		return nil, err
	}
	overlap := map[string]int{}
	for _, c := range chunks[target] {
		refs, err := g.store.GetTypeRefsByChunk(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			others, err := g.store.GetTypeRefsByType(ctx, r.TypeName)
			if err != nil {
				return nil, err
			}
			for _, o := range others {
				if o.ReferrerChunkID == c.ID {
					continue
				}
				byID, err := g.store.GetChunks(ctx, []string{o.ReferrerChunkID})
				if err != nil || len(byID) == 0 {
					continue
				}
				if byID[0].Name == target {
					continue
				}
				overlap[byID[0].Name]++
			}
		}
	}
	return overlap, nil
}

func topNItems(overlap map[string]int, topN int) []RelatedItem {
	items := make([]RelatedItem, 0, len(overlap))
	for name, count := range overlap {
		items = append(items, RelatedItem{Name: name, Overlap: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Overlap != items[j].Overlap {
			return items[i].Overlap > items[j].Overlap
		}
		return items[i].Name < items[j].Name
	})
	if len(items) > topN {
		items = items[:topN]
	}
	return items
}

// DeadCode reports functions with no incoming call edges, split by
// confidence, delegating the query itself to the store.
func (g *Graph) DeadCode(ctx context.Context, isTestName func(string) bool, isExported func(string) bool, minConfidence store.DeadFuncConfidence) ([]store.DeadFunc, []store.DeadFunc, error) {
	confident, possiblyPublic, err := g.store.DeadCode(ctx, isTestName, isExported)
	if err != nil {
		return nil, nil, err
	}
	return filterByConfidence(confident, minConfidence), filterByConfidence(possiblyPublic, minConfidence), nil
}

var confidenceRank = map[store.DeadFuncConfidence]int{
	store.DeadConfidenceLow:    0,
	store.DeadConfidenceMedium: 1,
	store.DeadConfidenceHigh:   2,
}

func filterByConfidence(funcs []store.DeadFunc, min store.DeadFuncConfidence) []store.DeadFunc {
	if min == "" {
		return funcs
	}
	minRank := confidenceRank[min]
	out := funcs[:0:0]
	for _, f := range funcs {
		if confidenceRank[f.Confidence] >= minRank {
			out = append(out, f)
		}
	}
	return out
}
