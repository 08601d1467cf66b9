package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/scrypster/tessera/internal/config"
	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/metrics"
	"github.com/scrypster/tessera/internal/reconcile"
	"github.com/scrypster/tessera/internal/server"
	"github.com/scrypster/tessera/internal/similarity"
	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/internal/storage/memory"
	"github.com/scrypster/tessera/internal/storage/postgres"
	"github.com/scrypster/tessera/internal/storage/sqlite"
	"github.com/scrypster/tessera/internal/storage/sqlitevec"
)

// entityDB is what both storage engines provide.
type entityDB interface {
	storage.EntityStore
	storage.CandidateStore
	storage.MergeLog
}

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg      *config.Config
	store    entityDB
	db       *sql.DB // sqlite engine only
	index    *similarity.Index
	sentinel *reconcile.Sentinel
	aliases  *reconcile.AliasDetector
	hub      *server.EventHub
	prom     *metrics.Prometheus // nil when metrics are disabled
	closers  []io.Closer
}

// vectorCache is a vector store that may have been reset on open.
type vectorCache interface {
	storage.VectorStore
	Reset() bool
}

// newApp opens storage, builds the similarity chain and the detector.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var keyword storage.KeywordIndex
	switch cfg.Storage.Engine {
	case "memory":
		a.store = memory.New()
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data path: %w", err)
		}
		st, err := sqlite.New(filepath.Join(cfg.Storage.DataPath, "tessera.db"))
		if err != nil {
			return nil, fmt.Errorf("open entity store: %w", err)
		}
		a.closers = append(a.closers, st)
		a.store = st
		a.db = st.DB()
		keyword = st
	}

	model, err := embedding.NewModel(embedding.ModelConfig{
		Model:             cfg.Embedding.Model,
		LocalDimension:    cfg.Embedding.LocalDimension,
		OllamaURL:         cfg.Embedding.OllamaURL,
		OllamaModel:       cfg.Embedding.OllamaModel,
		Timeout:           cfg.Embedding.Timeout,
		RequestsPerSecond: cfg.Embedding.RateLimit,
	})
	if err != nil {
		return nil, err
	}
	provider := embedding.NewProvider(model, embedding.WithLoadTimeout(cfg.Embedding.Timeout))

	var backends []similarity.Backend
	vectors, err := a.openVectors(provider)
	if err != nil {
		return nil, err
	}
	if vectors != nil {
		backends = append(backends, similarity.NewVectorBackend(provider, vectors))
	}
	if keyword != nil {
		backends = append(backends, similarity.NewKeywordBackend(keyword))
	}
	a.index = similarity.NewIndex(ctx, backends...)

	var recorder metrics.Recorder = metrics.Noop()
	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheus()
		recorder = a.prom
		metrics.SetRecorder(a.prom)
	}

	a.hub = server.NewEventHub(
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	)

	rc := cfg.Reconcile
	a.sentinel, err = reconcile.NewSentinel(a.store, a.index, reconcile.Config{
		SimilarityThreshold: rc.SimilarityThreshold,
		AutoMergeThreshold:  rc.AutoMergeThreshold,
		VerifyAutoMerge:     rc.VerifyAutoMerge,
		RejectionTTL:        rc.RejectionTTL,
	},
		reconcile.WithCandidateStore(a.store),
		reconcile.WithClusterer(reconcile.NewClusterer(provider, reconcile.ClusterConfig{
			Strategy:            rc.ClusterStrategy,
			SimilarityThreshold: rc.ClusterThreshold,
		})),
		reconcile.WithAuditSink(reconcile.MultiSink{reconcile.LogSink{}, a.store, a.hub}),
		reconcile.WithMetrics(recorder),
	)
	if err != nil {
		return nil, err
	}
	a.aliases = reconcile.NewAliasDetector(a.index, reconcile.AliasConfig{
		ContextThreshold:         rc.AliasContextThreshold,
		TransliterationThreshold: rc.TransliterationThreshold,
	})

	if vc, isCache := vectors.(vectorCache); isCache && vc.Reset() {
		n, err := a.sentinel.Rebuild(ctx)
		if err != nil {
			return nil, fmt.Errorf("rebuild similarity index: %w", err)
		}
		log.Printf("tessera: vector cache reset, re-indexed %d entities", n)
	}

	ok = true
	return a, nil
}

// openVectors opens the configured vector tier. It returns nil when the
// tier is disabled or the embedding model is unavailable.
func (a *app) openVectors(provider *embedding.Provider) (storage.VectorStore, error) {
	if a.cfg.Vector.Backend == "none" {
		return nil, nil
	}
	if !provider.Available() {
		log.Printf("tessera: embedding model %q unavailable, vector tier disabled", a.cfg.Embedding.Model)
		return nil, nil
	}

	switch a.cfg.Vector.Backend {
	case "pgvector":
		vs, err := postgres.NewVectorStore(a.cfg.Vector.PostgresDSN, provider.Dimension())
		if err != nil {
			// The chain degrades to the keyword tier; entities stay in the store.
			log.Printf("tessera: pgvector unavailable: %v", err)
			return nil, nil
		}
		a.closers = append(a.closers, vs)
		return vs, nil
	default:
		if a.cfg.Storage.Engine == "memory" {
			vs, err := memory.NewVectors(provider.Dimension())
			if err != nil {
				return nil, fmt.Errorf("open vector store: %w", err)
			}
			return vs, nil
		}
		path := filepath.Join(a.cfg.Storage.DataPath, "vectors.db")
		vs, err := sqlitevec.Open(path, provider.Dimension(), provider.ModelName())
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		a.closers = append(a.closers, vs)
		return vs, nil
	}
}

// Close releases every store the app opened.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Printf("tessera: close: %v", err)
		}
	}
	a.closers = nil
}
