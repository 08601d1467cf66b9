// Command tessera runs the entity reconciliation engine: an HTTP review
// API with a drop-directory watcher, and one-shot commands for ingesting
// batches and working the merge queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/scrypster/tessera/internal/config"
)

const usage = `usage: tessera [-config file] <command> [args]

commands:
  serve                   run the HTTP API and inbox watcher
  ingest [-source s] [-queue] <file>
                          ingest a JSON batch (or queue it for a running server)
  pending                 list pending merge candidates
  approve [-reason r] [-keep-secondary] <candidate-id>
  reject <candidate-id>
  suggest [-threshold t]  scan the store for likely duplicates
  search [-limit n] <query>
  aliases [-context s] <entity-id>
                          list entities the given entity is likely an alias of
  history [-limit n]      list executed merges
  rebuild                 re-index every stored entity
  backend                 print the active similarity tier
  snapshot [-list]        take a verified copy of the entity database
`

var errUsage = errors.New("usage")

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatalf("tessera: %v", err)
	}
}

// run parses global flags, wires the engine and dispatches one command.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tessera", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to YAML config file (default: $TESSERA_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	name, rest := fs.Arg(0), fs.Args()[1:]

	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return cmd(ctx, a, rest, out)
}
