package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/tessera/internal/metrics"
	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/internal/storage/memory"
	"github.com/scrypster/tessera/pkg/types"
)

// Detector defaults.
const (
	DefaultSimilarityThreshold = 0.80
	DefaultAutoMergeThreshold  = 0.95
	DefaultRejectionTTL        = 10 * time.Minute
)

// Config holds the Sentinel thresholds.
type Config struct {
	// SimilarityThreshold is the lowest similarity that creates a candidate.
	SimilarityThreshold float64

	// AutoMergeThreshold is the similarity at or above which a match is
	// merged without review. Values above 1 disable auto-merging.
	AutoMergeThreshold float64

	// VerifyAutoMerge runs the classifier before an auto-merge and queues
	// the match for review instead when the verdict is not Correction or
	// Event, or when the merge would resolve attribute conflicts.
	VerifyAutoMerge bool

	// RejectionTTL suppresses re-proposing a rejected pair whose text has
	// not changed. Zero disables the suppression.
	RejectionTTL time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		AutoMergeThreshold:  DefaultAutoMergeThreshold,
		VerifyAutoMerge:     true,
		RejectionTTL:        DefaultRejectionTTL,
	}
}

// Validate checks threshold ranges.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold %v outside [0,1]", storage.ErrInvalidInput, c.SimilarityThreshold)
	}
	if c.AutoMergeThreshold < 0 {
		return fmt.Errorf("%w: auto-merge threshold %v is negative", storage.ErrInvalidInput, c.AutoMergeThreshold)
	}
	if c.RejectionTTL < 0 {
		return fmt.Errorf("%w: rejection TTL %v is negative", storage.ErrInvalidInput, c.RejectionTTL)
	}
	return nil
}

// IngestResult reports what one Ingest call did.
type IngestResult struct {
	Ingested   []*types.Entity         // entities saved, in input order
	Candidates []*types.MergeCandidate // pending candidates created
	Merges     []*types.MergeEvent     // auto-merges executed
	Suppressed int                     // matches skipped by the rejection cache
}

// rejection remembers the text both entities had when a pair was rejected.
type rejection struct {
	at    time.Time
	textA string
	textB string
}

// Sentinel ingests extracted entities, queues probable duplicates for
// review and merges near-identical ones immediately.
type Sentinel struct {
	store      storage.EntityStore
	index      *similarity.Index
	candidates storage.CandidateStore
	clusterer  *Clusterer
	classifier *Classifier
	merger     *Merger
	sink       AuditSink
	metrics    metrics.Recorder
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex // serialises Ingest and queue decisions
	rejected map[string]rejection
}

// Option configures a Sentinel.
type Option func(*Sentinel)

// WithCandidateStore persists the pending queue in cs instead of memory.
func WithCandidateStore(cs storage.CandidateStore) Option {
	return func(s *Sentinel) { s.candidates = cs }
}

// WithClusterer restricts comparisons to same-cluster entities.
func WithClusterer(c *Clusterer) Option {
	return func(s *Sentinel) { s.clusterer = c }
}

// WithAuditSink receives an event for every executed merge.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Sentinel) { s.sink = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Sentinel) { s.metrics = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sentinel) { s.now = now }
}

// NewSentinel returns a detector over store and index.
func NewSentinel(store storage.EntityStore, index *similarity.Index, cfg Config, opts ...Option) (*Sentinel, error) {
	if store == nil || index == nil {
		return nil, fmt.Errorf("%w: store and index are required", storage.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sentinel{
		store:    store,
		index:    index,
		cfg:      cfg,
		metrics:  metrics.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		rejected: make(map[string]rejection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.candidates == nil {
		s.candidates = memory.New()
	}
	if s.clusterer == nil {
		s.clusterer = NewClusterer(nil, ClusterConfig{})
	}
	s.classifier = NewClassifier(index)
	s.merger = NewMerger(store, index, s.sink)
	s.merger.now = s.now
	s.metrics.SetBackend(index.BackendName())
	return s, nil
}

// Merger returns the merger used for auto-merges and approvals.
func (s *Sentinel) Merger() *Merger { return s.merger }

// Classifier returns the classifier attached to candidates.
func (s *Sentinel) Classifier() *Classifier { return s.classifier }

// BackendName reports the similarity tier currently answering queries.
func (s *Sentinel) BackendName() string { return s.index.BackendName() }

// Ingest saves entities and compares each, in order, with the entities
// known before it in the same cluster. Matches in the review band become
// pending candidates; matches at or above the auto-merge threshold are
// merged at once and visible to later entities of the same batch.
//
// source, when set, is recorded as provenance on every entity. Ingest stops
// between entities when ctx is done and returns the partial result with the
// context error; merges already applied are kept.
func (s *Sentinel) Ingest(ctx context.Context, entities []*types.Entity, source string) (*IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer metrics.TimeIngest(s.metrics)()

	res := &IngestResult{}
	if len(entities) == 0 {
		return res, nil
	}

	batch := make([]*types.Entity, 0, len(entities))
	for _, e := range entities {
		if e == nil {
			continue
		}
		e = e.Clone()
		if e.ID == "" {
			e.ID = types.NewEntityID()
		}
		e.AddSource(source)
		batch = append(batch, e)
	}

	existing, err := s.store.ListEntities(ctx)
	if err != nil {
		return res, fmt.Errorf("list entities: %w", err)
	}
	inBatch := make(map[string]bool, len(batch))
	for _, e := range batch {
		inBatch[e.ID] = true
	}
	views := make(map[string]*EntityView, len(existing)+len(batch))
	all := make([]*types.Entity, 0, len(existing)+len(batch))
	reindex := make(map[string]bool)
	for _, e := range existing {
		if inBatch[e.ID] {
			reindex[e.ID] = true
			continue
		}
		views[e.ID] = NewView(e)
		all = append(all, e)
	}
	all = append(all, batch...)

	groups, err := s.clusterer.Cluster(ctx, all, 0)
	if err != nil {
		return res, err
	}
	clusterOf := make(map[string]string, len(all))
	for id, members := range groups {
		for _, e := range members {
			clusterOf[e.ID] = id
		}
	}
	// known lists live entity ids per cluster in arrival order.
	known := make(map[string][]string, len(groups))
	for _, e := range all {
		if !inBatch[e.ID] {
			known[clusterOf[e.ID]] = append(known[clusterOf[e.ID]], e.ID)
		}
	}

	pending, err := s.pendingPairs(ctx)
	if err != nil {
		return res, err
	}
	suppressed := make(map[string]bool)

	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.store.SaveEntity(ctx, e); err != nil {
			return res, fmt.Errorf("save entity %s: %w", e.ID, err)
		}
		view := NewView(e)
		write := s.index.Add
		if reindex[e.ID] {
			write = s.index.Replace
		}
		if err := write(ctx, e.ID, view.Text, view.Metadata()); err != nil {
			return res, fmt.Errorf("index entity %s: %w", e.ID, err)
		}
		res.Ingested = append(res.Ingested, e.Clone())
		s.metrics.IncIngested(1)

		cluster := clusterOf[e.ID]
		absorbedInto, err := s.evaluate(ctx, e, view, known[cluster], views, pending, suppressed, res)
		if err != nil {
			return res, err
		}
		if absorbedInto != "" {
			continue
		}
		views[e.ID] = view
		known[cluster] = append(known[cluster], e.ID)
	}
	return res, nil
}

type match struct {
	peer *EntityView
	sim  float64
}

// evaluate compares e with its peers. It returns the surviving id when e
// was auto-merged into a peer.
func (s *Sentinel) evaluate(
	ctx context.Context,
	e *types.Entity,
	view *EntityView,
	peers []string,
	views map[string]*EntityView,
	pending map[string]bool,
	suppressed map[string]bool,
	res *IngestResult,
) (string, error) {
	var matches []match
	for _, id := range peers {
		pv, ok := views[id]
		if !ok || id == e.ID {
			continue
		}
		sim := s.index.Similarity(ctx, view.Text, pv.Text)
		if sim < s.cfg.SimilarityThreshold {
			continue
		}
		matches = append(matches, match{peer: pv, sim: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })

	first := true
	for _, m := range matches {
		key := types.PairKey(m.peer.ID, e.ID)
		if pending[key] {
			s.metrics.IncMatch(metrics.OutcomeDuplicate)
			continue
		}
		if suppressed[key] || s.recentlyRejected(key, m.peer.Text, view.Text) {
			suppressed[key] = true
			res.Suppressed++
			s.metrics.IncMatch(metrics.OutcomeSuppressed)
			continue
		}

		analysis := s.classifier.categorizeViews(ctx, view, m.peer)
		s.metrics.IncClassification(string(analysis.Category))

		tryAuto := first && m.sim >= s.cfg.AutoMergeThreshold
		first = false
		if tryAuto {
			reason, ok := s.verifyAutoMerge(ctx, m.peer.ID, e, analysis)
			if ok {
				result, err := s.merger.Merge(ctx, m.peer.ID, e.ID, MergeOptions{
					Reason:     fmt.Sprintf("auto-merge: similarity %.3f >= %.3f; %s", m.sim, s.cfg.AutoMergeThreshold, analysis.Reasoning),
					Similarity: m.sim,
					Auto:       true,
				})
				if err != nil {
					return "", fmt.Errorf("auto-merge %s into %s: %w", e.ID, m.peer.ID, err)
				}
				log.Printf("reconcile: auto-merged %s into %s (similarity %.3f)", e.ID, m.peer.ID, m.sim)
				views[m.peer.ID] = NewView(result.Entity)
				res.Merges = append(res.Merges, result.Event)
				s.metrics.IncMatch(metrics.OutcomeAutoMerged)
				if err := s.pruneCandidates(ctx, e.ID, pending); err != nil {
					return "", err
				}
				return m.peer.ID, nil
			}
			analysis.Reasoning = reason + "; " + analysis.Reasoning
			s.metrics.IncMatch(metrics.OutcomeDowngraded)
		}

		c := &types.MergeCandidate{
			ID:          types.NewCandidateID(),
			EntityAID:   m.peer.ID,
			EntityAName: m.peer.Name,
			EntityBID:   e.ID,
			EntityBName: view.Name,
			Similarity:  m.sim,
			Status:      types.CandidatePending,
			Analysis:    analysis,
			CreatedAt:   s.now(),
		}
		if err := s.candidates.PutCandidate(ctx, c); err != nil {
			return "", fmt.Errorf("queue candidate: %w", err)
		}
		pending[key] = true
		res.Candidates = append(res.Candidates, c.Clone())
		s.metrics.IncMatch(metrics.OutcomePending)
	}
	return "", nil
}

// verifyAutoMerge reports whether an auto-merge may proceed. When it may
// not, the returned reason explains the downgrade.
func (s *Sentinel) verifyAutoMerge(ctx context.Context, primaryID string, e *types.Entity, a *types.ConflictAnalysis) (string, bool) {
	if !s.cfg.VerifyAutoMerge {
		return "", true
	}
	if a.Category != types.CategoryCorrection && a.Category != types.CategoryEvent {
		return fmt.Sprintf("auto-merge held for review: classified as %s", a.Category), false
	}
	primary, err := s.store.GetEntity(ctx, primaryID)
	if err != nil {
		return fmt.Sprintf("auto-merge held for review: %v", err), false
	}
	if conflicts := PreviewMerge(primary, e, true).Conflicts; len(conflicts) > 0 {
		return fmt.Sprintf("auto-merge held for review: %d conflicting value(s)", len(conflicts)), false
	}
	return "", true
}

func (s *Sentinel) recentlyRejected(key, textA, textB string) bool {
	if s.cfg.RejectionTTL <= 0 {
		return false
	}
	r, ok := s.rejected[key]
	if !ok {
		return false
	}
	if s.now().Sub(r.at) >= s.cfg.RejectionTTL {
		delete(s.rejected, key)
		return false
	}
	return (r.textA == textA && r.textB == textB) || (r.textA == textB && r.textB == textA)
}

func (s *Sentinel) pendingPairs(ctx context.Context) (map[string]bool, error) {
	list, err := s.candidates.ListCandidates(ctx, types.CandidatePending)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	pairs := make(map[string]bool, len(list))
	for _, c := range list {
		pairs[c.PairKey()] = true
	}
	return pairs, nil
}

// pruneCandidates drops pending candidates that reference an absorbed id.
func (s *Sentinel) pruneCandidates(ctx context.Context, absorbedID string, pending map[string]bool) error {
	list, err := s.candidates.ListCandidates(ctx, types.CandidatePending)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	for _, c := range list {
		if c.EntityAID != absorbedID && c.EntityBID != absorbedID {
			continue
		}
		if err := s.candidates.DeleteCandidate(ctx, c.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete candidate %s: %w", c.ID, err)
		}
		if pending != nil {
			delete(pending, c.PairKey())
		}
	}
	return nil
}

// PendingMerges returns the pending queue, oldest first.
func (s *Sentinel) PendingMerges(ctx context.Context) ([]*types.MergeCandidate, error) {
	return s.candidates.ListCandidates(ctx, types.CandidatePending)
}

// ApproveMerge merges the candidate's second entity into its first and
// removes the candidate from the queue. preferPrimary decides which side
// wins true conflicts. Unknown or decided candidates fail with
// ErrCandidateNotFound.
func (s *Sentinel) ApproveMerge(ctx context.Context, id, reason string, preferPrimary bool) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.pendingCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "approved"
	}
	result, err := s.merger.Merge(ctx, c.EntityAID, c.EntityBID, MergeOptions{
		PreferSecondary: !preferPrimary,
		Reason:          reason,
		Similarity:      c.Similarity,
		CandidateID:     c.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.decide(ctx, c, types.CandidateApproved, reason); err != nil {
		return nil, err
	}
	if err := s.pruneCandidates(ctx, c.EntityBID, nil); err != nil {
		return nil, err
	}
	log.Printf("reconcile: approved merge %s: %s into %s (similarity %.3f)", c.ID, c.EntityBID, c.EntityAID, c.Similarity)
	s.metrics.IncDecision(string(types.CandidateApproved))
	return result.Entity, nil
}

// RejectMerge discards the candidate and keeps both entities. The same pair
// is not proposed again within the rejection TTL unless either entity's
// text changes.
func (s *Sentinel) RejectMerge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.pendingCandidate(ctx, id)
	if err != nil {
		return err
	}
	if s.cfg.RejectionTTL > 0 {
		r := rejection{at: s.now()}
		if a, err := s.store.GetEntity(ctx, c.EntityAID); err == nil {
			r.textA = NewView(a).Text
		}
		if b, err := s.store.GetEntity(ctx, c.EntityBID); err == nil {
			r.textB = NewView(b).Text
		}
		s.rejected[c.PairKey()] = r
	}
	if err := s.decide(ctx, c, types.CandidateRejected, ""); err != nil {
		return err
	}
	log.Printf("reconcile: rejected merge %s: %s and %s stay separate", c.ID, c.EntityAID, c.EntityBID)
	s.metrics.IncDecision(string(types.CandidateRejected))
	return nil
}

func (s *Sentinel) pendingCandidate(ctx context.Context, id string) (*types.MergeCandidate, error) {
	c, err := s.candidates.GetCandidate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate %s: %w", id, err)
	}
	if c.Status != types.CandidatePending {
		return nil, fmt.Errorf("%w: %s is %s", ErrCandidateNotFound, id, c.Status)
	}
	return c, nil
}

// decide records the final status, then removes the candidate from the
// queue. A candidate left behind by a failed delete is no longer pending.
func (s *Sentinel) decide(ctx context.Context, c *types.MergeCandidate, status types.CandidateStatus, reason string) error {
	if !types.IsValidCandidateTransition(c.Status, status) {
		return fmt.Errorf("%w: candidate %s cannot move from %s to %s", storage.ErrInvalidInput, c.ID, c.Status, status)
	}
	c.Status = status
	c.Reason = reason
	if err := s.candidates.PutCandidate(ctx, c); err != nil {
		return fmt.Errorf("record decision for %s: %w", c.ID, err)
	}
	if err := s.candidates.DeleteCandidate(ctx, c.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("remove candidate %s: %w", c.ID, err)
	}
	return nil
}

// SuggestMerges scans every stored entity for probable duplicates at or
// above threshold, comparing within clusters. Pairs are ordered by
// similarity, highest first.
func (s *Sentinel) SuggestMerges(ctx context.Context, threshold float64) ([]types.DuplicatePair, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [0,1]", storage.ErrInvalidInput, threshold)
	}
	all, err := s.store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	groups, err := s.clusterer.Cluster(ctx, all, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []types.DuplicatePair
	for _, cid := range ids {
		members := groups[cid]
		views := make([]*EntityView, len(members))
		for i, e := range members {
			views[i] = NewView(e)
		}
		for i := range members {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for j := i + 1; j < len(members); j++ {
				sim := s.index.Similarity(ctx, views[i].Text, views[j].Text)
				if sim >= threshold {
					out = append(out, types.DuplicatePair{EntityA: members[i], EntityB: members[j], Similarity: sim})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// Search returns the entities most similar to query.
func (s *Sentinel) Search(ctx context.Context, query string, limit int) ([]types.SearchResult, error) {
	return s.index.Search(ctx, query, limit)
}

// Rebuild re-indexes every stored entity, for when the vector cache was
// lost or the embedding model changed.
func (s *Sentinel) Rebuild(ctx context.Context) (int, error) {
	all, err := s.store.ListEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entities: %w", err)
	}
	docs := make([]similarity.Document, len(all))
	for i, e := range all {
		v := NewView(e)
		docs[i] = similarity.Document{ID: e.ID, Text: v.Text, Metadata: v.Metadata()}
	}
	if err := s.index.Rebuild(ctx, docs); err != nil {
		return 0, err
	}
	s.metrics.SetBackend(s.index.BackendName())
	return len(docs), nil
}
