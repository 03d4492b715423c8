// Package catalog builds a cached, read-mostly index over the product tree.
//
// The Index owns a TTL cache of Snapshots. A Snapshot maps canonical
// dimension keys to the flows that sell that size, classifies every entry
// into a product flow, and answers alias, exact-match and closest-size
// lookups. Snapshots are immutable once built and replaced atomically.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/entities"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// DefaultTTL is how long a snapshot is served before it is rebuilt.
const DefaultTTL = 5 * time.Minute

// ErrNoSnapshot is returned when no snapshot could be built or served.
var ErrNoSnapshot = errors.New("catalog snapshot unavailable")

// Source is the read contract the index needs from the catalog store.
type Source interface {
	ListCatalogEntries(filter models.CatalogFilter) ([]models.CatalogEntry, error)
}

// Opts holds configuration for an Index.
type Opts struct {
	TTL   time.Duration
	Clock func() time.Time
}

// Option configures an Index.
type Option func(*Opts)

// WithTTL sets the snapshot time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Index is the TTL-cached catalog index. It is safe for concurrent use.
type Index struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	rebuildMu  sync.Mutex
}

// NewIndex creates an index reading from source.
func NewIndex(source Source, opts ...Option) *Index {
	cfg := Opts{TTL: DefaultTTL, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Index{source: source, ttl: cfg.TTL, now: cfg.Clock}
}

func (ix *Index) fresh(s *Snapshot) bool {
	return s != nil && s.generation == ix.generation.Load() && ix.now().Sub(s.builtAt) < ix.ttl
}

// Get returns the current snapshot, rebuilding it when stale or invalidated.
// Concurrent callers share a single rebuild. When a rebuild fails the
// previous snapshot, if any, keeps being served.
func (ix *Index) Get(ctx context.Context) (*Snapshot, error) {
	if s := ix.current.Load(); ix.fresh(s) {
		return s, nil
	}

	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()

	prev := ix.current.Load()
	if ix.fresh(prev) {
		return prev, nil
	}
	if err := ctx.Err(); err != nil {
		if prev != nil {
			return prev, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}

	gen := ix.generation.Load()
	entries, err := ix.source.ListCatalogEntries(models.CatalogFilter{})
	if err != nil {
		if prev != nil {
			slog.Warn("Index.Get: rebuild failed, serving stale snapshot", "error", err, "builtAt", prev.builtAt)
			return prev, nil
		}
		slog.Error("Index.Get: rebuild failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}

	s := Build(entries)
	s.builtAt = ix.now()
	s.generation = gen
	ix.current.Store(s)
	slog.Debug("Index.Get: snapshot rebuilt", "entries", len(entries), "sizes", len(s.bySize))
	return s, nil
}

// Invalidate forces the next Get to rebuild.
func (ix *Index) Invalidate() {
	ix.generation.Add(1)
	slog.Debug("Index.Invalidate: catalog snapshot invalidated")
}

// ResolveFlow returns the flow owning a size, in either orientation.
func (ix *Index) ResolveFlow(ctx context.Context, a, b float64) (models.FlowType, bool, error) {
	s, err := ix.Get(ctx)
	if err != nil {
		return "", false, err
	}
	f, ok := s.ResolveFlow(a, b)
	return f, ok, nil
}

// Variants reports whether a flow has retail and wholesale variants.
func (ix *Index) Variants(ctx context.Context, flow models.FlowType) (retail, wholesale bool, err error) {
	s, err := ix.Get(ctx)
	if err != nil {
		return false, false, err
	}
	retail, wholesale = s.Variants(flow)
	return retail, wholesale, nil
}

// HasFlow reports whether any sellable active product belongs to flow.
func (ix *Index) HasFlow(ctx context.Context, flow models.FlowType) (bool, error) {
	s, err := ix.Get(ctx)
	if err != nil {
		return false, err
	}
	return s.HasFlow(flow), nil
}

// Snapshot is an immutable view of the catalog.
type Snapshot struct {
	entries    map[string]*models.CatalogEntry
	order      []string
	flowOf     map[string]models.FlowType
	measures   map[string]measure
	bySize     map[string][]models.FlowType
	aliasFlows map[string]map[models.FlowType]bool // effective alias -> flows carrying it

	builtAt    time.Time
	generation uint64
}

// Build indexes a list of entries into a snapshot.
func Build(list []models.CatalogEntry) *Snapshot {
	s := &Snapshot{
		entries:    make(map[string]*models.CatalogEntry, len(list)),
		flowOf:     make(map[string]models.FlowType, len(list)),
		measures:   make(map[string]measure, len(list)),
		bySize:     make(map[string][]models.FlowType),
		aliasFlows: make(map[string]map[models.FlowType]bool),
	}
	for i := range list {
		e := list[i]
		s.entries[e.ID] = &e
		s.order = append(s.order, e.ID)
	}
	sort.Strings(s.order)

	claims := make(map[string]map[models.FlowType]bool)
	for _, id := range s.order {
		e := s.entries[id]
		m := parseMeasure(e.Size)
		s.measures[id] = m
		f := classify(s.entries, e, m)
		if f == "" {
			continue
		}
		s.flowOf[id] = f
		if !e.Sellable || !e.Active {
			continue
		}
		for _, a := range s.EffectiveAliases(id) {
			if s.aliasFlows[a] == nil {
				s.aliasFlows[a] = make(map[models.FlowType]bool)
			}
			s.aliasFlows[a][f] = true
		}
		if m.dims == nil || m.dims.Triangle {
			continue
		}
		key := m.dims.Key()
		if claims[key] == nil {
			claims[key] = make(map[models.FlowType]bool)
		}
		claims[key][f] = true
	}
	for key, flows := range claims {
		for _, f := range models.ProductFlows {
			if flows[f] {
				s.bySize[key] = append(s.bySize[key], f)
			}
		}
	}
	return s
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entry returns the entry with the given id.
func (s *Snapshot) Entry(id string) (models.CatalogEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return *e, true
}

// FamilyOf returns the product flow owning an entry.
func (s *Snapshot) FamilyOf(id string) (models.FlowType, bool) {
	f, ok := s.flowOf[id]
	return f, ok
}

// FlowsForSize lists the flows claiming a size, in priority order.
func (s *Snapshot) FlowsForSize(a, b float64) []models.FlowType {
	return s.bySize[entities.DimensionKey(a, b)]
}

// ResolveFlow returns the single flow claiming a size, or the highest
// priority claimant when several do.
func (s *Snapshot) ResolveFlow(a, b float64) (models.FlowType, bool) {
	flows := s.FlowsForSize(a, b)
	if len(flows) == 0 {
		return "", false
	}
	return flows[0], true
}

// EffectiveAliases returns the folded aliases of an entry and all of its
// ancestors, own aliases first. The walk stops at a repeated node.
func (s *Snapshot) EffectiveAliases(id string) []string {
	var out []string
	seenAlias := make(map[string]bool)
	visited := make(map[string]bool)
	for node := s.entries[id]; node != nil && !visited[node.ID]; node = s.entries[node.ParentID] {
		visited[node.ID] = true
		for _, a := range node.Aliases {
			a = strings.TrimSpace(entities.Fold(a))
			if a != "" && !seenAlias[a] {
				seenAlias[a] = true
				out = append(out, a)
			}
		}
		if node.ParentID == "" {
			break
		}
	}
	return out
}

// MatchAlias returns the flow whose products carry an effective alias
// mentioned in text. Aliases shared by several flows (those inherited from a
// common ancestor) identify no flow; among specific hits the highest priority
// flow wins.
func (s *Snapshot) MatchAlias(text string) (models.FlowType, bool) {
	folded := " " + entities.Fold(text) + " "
	hits := make(map[models.FlowType]bool)
	for alias, flows := range s.aliasFlows {
		if len(flows) != 1 || !strings.Contains(folded, " "+alias+" ") {
			continue
		}
		for f := range flows {
			hits[f] = true
		}
	}
	for _, f := range models.ProductFlows {
		if hits[f] {
			return f, true
		}
	}
	return "", false
}

func (s *Snapshot) flowEntries(flow models.FlowType) []*models.CatalogEntry {
	var out []*models.CatalogEntry
	for _, id := range s.order {
		e := s.entries[id]
		if s.flowOf[id] == flow && e.Sellable && e.Active {
			out = append(out, e)
		}
	}
	return out
}

// HasFlow reports whether any sellable active product belongs to flow.
func (s *Snapshot) HasFlow(flow models.FlowType) bool {
	return len(s.flowEntries(flow)) > 0
}

// Variants reports whether a flow has retail and wholesale products.
func (s *Snapshot) Variants(flow models.FlowType) (retail, wholesale bool) {
	for _, e := range s.flowEntries(flow) {
		if e.Wholesale {
			wholesale = true
		} else {
			retail = true
		}
	}
	return retail, wholesale
}

func close2(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// distance scores how far an entry is from the requested specs; ok is false
// when the entry cannot be compared at all.
func (s *Snapshot) distance(flow models.FlowType, e *models.CatalogEntry, specs models.ProductSpecs) (float64, bool) {
	m := s.measures[e.ID]
	if !m.present {
		return 0, false
	}
	var d float64
	switch flow {
	case models.FlowRollo:
		if m.dims == nil || specs.Width == nil {
			return 0, false
		}
		d = math.Abs(math.Min(m.dims.Width, m.dims.Length) - *specs.Width)
		if specs.Percentage != nil && e.Percentage != 0 && e.Percentage != *specs.Percentage {
			d += math.Abs(float64(e.Percentage-*specs.Percentage)) / 10
		}
	case models.FlowBorde:
		if specs.Length == nil {
			return 0, false
		}
		l := m.length
		if m.dims != nil {
			l = math.Max(m.dims.Width, m.dims.Length)
		}
		d = math.Abs(l - *specs.Length)
	default:
		if m.dims == nil || m.dims.Triangle || specs.Width == nil || specs.Length == nil {
			return 0, false
		}
		a, b := math.Min(*specs.Width, *specs.Length), math.Max(*specs.Width, *specs.Length)
		d = math.Abs(math.Min(m.dims.Width, m.dims.Length)-a) + math.Abs(math.Max(m.dims.Width, m.dims.Length)-b)
		if specs.Percentage != nil && e.Percentage != 0 && e.Percentage != *specs.Percentage {
			d += 0.5
		}
	}
	if specs.Color != "" && e.Color != "" && entities.Fold(e.Color) != specs.Color {
		d += 0.25
	}
	return d, true
}

// FindExact returns the product of flow matching specs exactly. Retail
// products win over wholesale-only ones.
func (s *Snapshot) FindExact(flow models.FlowType, specs models.ProductSpecs) (models.CatalogEntry, bool) {
	var wholesaleHit *models.CatalogEntry
	for _, e := range s.flowEntries(flow) {
		d, ok := s.distance(flow, e, specs)
		if !ok || !close2(d, 0) {
			continue
		}
		if !e.Wholesale {
			return *e, true
		}
		if wholesaleHit == nil {
			wholesaleHit = e
		}
	}
	if wholesaleHit != nil {
		return *wholesaleHit, true
	}
	return models.CatalogEntry{}, false
}

// Closest returns up to n retail products of flow nearest to specs.
func (s *Snapshot) Closest(flow models.FlowType, specs models.ProductSpecs, n int) []models.CatalogEntry {
	type scored struct {
		e *models.CatalogEntry
		d float64
	}
	var cands []scored
	for _, e := range s.flowEntries(flow) {
		if e.Wholesale {
			continue
		}
		if d, ok := s.distance(flow, e, specs); ok {
			cands = append(cands, scored{e, d})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].d != cands[j].d {
			return cands[i].d < cands[j].d
		}
		return cands[i].e.Name < cands[j].e.Name
	})
	if n > len(cands) {
		n = len(cands)
	}
	if n < 0 {
		n = 0
	}
	out := make([]models.CatalogEntry, 0, n)
	for _, c := range cands[:n] {
		out = append(out, *c.e)
	}
	return out
}
