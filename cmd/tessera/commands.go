package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/scrypster/tessera/internal/inbox"
	"github.com/scrypster/tessera/internal/reconcile"
	"github.com/scrypster/tessera/internal/server"
	"github.com/scrypster/tessera/internal/snapshot"
	"github.com/scrypster/tessera/pkg/types"
)

type command func(ctx context.Context, a *app, args []string, out io.Writer) error

var commands = map[string]command{
	"serve":    cmdServe,
	"ingest":   cmdIngest,
	"pending":  cmdPending,
	"approve":  cmdApprove,
	"reject":   cmdReject,
	"suggest":  cmdSuggest,
	"search":   cmdSearch,
	"aliases":  cmdAliases,
	"history":  cmdHistory,
	"rebuild":  cmdRebuild,
	"backend":  cmdBackend,
	"snapshot": cmdSnapshot,
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string, positional int) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != positional {
		return fmt.Errorf("%w: %s takes %d argument(s)", errUsage, fs.Name(), positional)
	}
	return nil
}

func cmdServe(ctx context.Context, a *app, args []string, out io.Writer) error {
	if err := parse(newFlags("serve"), args, 0); err != nil {
		return err
	}

	opts := server.Options{Engine: a.sentinel, MergeLog: a.store, Hub: a.hub}
	if a.prom != nil {
		opts.Metrics = a.prom.Handler()
	}
	addr, hub, err := server.Start(ctx, a.cfg.Server, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tessera API running at http://%s (similarity tier: %s)\n", addr, a.sentinel.BackendName())

	if a.cfg.Storage.Engine != "memory" {
		w := inbox.NewWatcher(a.cfg.Storage.DataPath, a.sentinel, func(_ string, res *reconcile.IngestResult, _ error) {
			if res != nil {
				hub.CandidatesQueued(res.Candidates)
			}
		})
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	<-ctx.Done()
	log.Println("tessera: shutting down")
	return nil
}

func cmdIngest(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("ingest")
	source := fs.String("source", "", "Source chunk reference (overrides the batch source)")
	queue := fs.Bool("queue", false, "Drop the batch into the inbox of a running server")
	if err := parse(fs, args, 1); err != nil {
		return err
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	batch, err := types.ParseBatch(data)
	if err != nil {
		return err
	}
	if *source != "" {
		batch.Source = *source
	}

	if *queue {
		path, err := inbox.Submit(a.cfg.Storage.DataPath, batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queued %d entities as %s\n", len(batch.Entities), path)
		return nil
	}

	res, err := a.sentinel.Ingest(ctx, batch.Entities, batch.Source)
	if res != nil {
		fmt.Fprintf(out, "ingested %d entities: %d candidates, %d auto-merges, %d suppressed\n",
			len(res.Ingested), len(res.Candidates), len(res.Merges), res.Suppressed)
		for _, c := range res.Candidates {
			fmt.Fprintf(out, "  candidate %s: %s <-> %s (%.3f)\n", c.ID, c.EntityAName, c.EntityBName, c.Similarity)
		}
		for _, m := range res.Merges {
			fmt.Fprintf(out, "  merged %s into %s (%.3f)\n", m.AbsorbedName, m.PrimaryID, m.Similarity)
		}
	}
	return err
}

func cmdPending(ctx context.Context, a *app, args []string, out io.Writer) error {
	if err := parse(newFlags("pending"), args, 0); err != nil {
		return err
	}
	pending, err := a.sentinel.PendingMerges(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY A\tENTITY B\tSIMILARITY\tCATEGORY")
	for _, c := range pending {
		category := ""
		if c.Analysis != nil {
			category = string(c.Analysis.Category)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n", c.ID, c.EntityAName, c.EntityBName, c.Similarity, category)
	}
	return tw.Flush()
}

func cmdApprove(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("approve")
	reason := fs.String("reason", "", "Reason recorded in the merge history")
	keepSecondary := fs.Bool("keep-secondary", false, "Let entity B win conflicting fields")
	if err := parse(fs, args, 1); err != nil {
		return err
	}
	merged, err := a.sentinel.ApproveMerge(ctx, fs.Arg(0), *reason, !*keepSecondary)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "merged into %s (%s)\n", merged.ID, merged.Name)
	return nil
}

func cmdReject(ctx context.Context, a *app, args []string, out io.Writer) error {
	if err := parse(newFlags("reject"), args, 1); err != nil {
		return err
	}
	id := args[0]
	if err := a.sentinel.RejectMerge(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "rejected %s\n", id)
	return nil
}

func cmdSuggest(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("suggest")
	threshold := fs.Float64("threshold", a.cfg.Reconcile.SimilarityThreshold, "Minimum similarity")
	if err := parse(fs, args, 0); err != nil {
		return err
	}
	pairs, err := a.sentinel.SuggestMerges(ctx, *threshold)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY A\tENTITY B\tSIMILARITY")
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s (%s)\t%s (%s)\t%.3f\n", p.EntityA.Name, p.EntityA.ID, p.EntityB.Name, p.EntityB.ID, p.Similarity)
	}
	return tw.Flush()
}

func cmdSearch(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("search")
	limit := fs.Int("limit", 10, "Maximum results")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	query := strings.Join(fs.Args(), " ")
	if query == "" {
		return fmt.Errorf("%w: search needs a query", errUsage)
	}
	results, err := a.sentinel.Search(ctx, query, *limit)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(out, "%.3f  %s  %s\n", r.Score, r.EntityID, r.Metadata["name"])
	}
	return nil
}

func cmdAliases(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("aliases")
	sentence := fs.String("context", "", "Sentence the entity was extracted from")
	if err := parse(fs, args, 1); err != nil {
		return err
	}
	e, err := a.store.GetEntity(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	pool, err := a.store.ListEntities(ctx)
	if err != nil {
		return err
	}
	for _, s := range a.aliases.DetectAliases(ctx, e, pool, *sentence) {
		marker := ""
		if s.IsPossibleTransliterationError {
			marker = " (possible transliteration error)"
		}
		fmt.Fprintf(out, "%.3f  %s (%s)  %s%s\n", s.Similarity, s.ExistingEntity.Name, s.ExistingEntity.ID, s.Reasoning, marker)
	}
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("history")
	limit := fs.Int("limit", 20, "Maximum events")
	if err := parse(fs, args, 0); err != nil {
		return err
	}
	events, err := a.store.ListMerges(ctx, *limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if events == nil {
		events = []*types.MergeEvent{}
	}
	return enc.Encode(events)
}

func cmdRebuild(ctx context.Context, a *app, args []string, out io.Writer) error {
	if err := parse(newFlags("rebuild"), args, 0); err != nil {
		return err
	}
	n, err := a.sentinel.Rebuild(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "re-indexed %d entities on %s\n", n, a.sentinel.BackendName())
	return nil
}

func cmdBackend(_ context.Context, a *app, args []string, out io.Writer) error {
	if err := parse(newFlags("backend"), args, 0); err != nil {
		return err
	}
	fmt.Fprintln(out, a.sentinel.BackendName())
	return nil
}

func cmdSnapshot(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlags("snapshot")
	list := fs.Bool("list", false, "List snapshots instead of taking one")
	if err := parse(fs, args, 0); err != nil {
		return err
	}
	dir := filepath.Join(a.cfg.Storage.DataPath, "snapshots")

	if !*list {
		if a.db == nil {
			return fmt.Errorf("snapshots need the sqlite storage engine, not %q", a.cfg.Storage.Engine)
		}
		now := time.Now()
		info, err := snapshot.Take(ctx, a.db, dir, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "snapshot %s (%d bytes, %s)\n", info.Path, info.Size, info.Duration)
		removed, err := snapshot.Prune(dir, snapshot.DefaultPolicy(), now)
		if err != nil {
			return err
		}
		for _, s := range removed {
			fmt.Fprintf(out, "expired %s\n", filepath.Base(s.Path))
		}
		return nil
	}

	snaps, err := snapshot.List(dir)
	if err != nil {
		return err
	}
	keep, _ := snapshot.DefaultPolicy().Plan(snaps, time.Now())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAKEN\tSIZE\tTIER\tPATH")
	for _, s := range keep {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Taken.Format(time.RFC3339), s.Size, s.Retention, s.Path)
	}
	return tw.Flush()
}
