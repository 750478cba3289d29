package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livesql/internal/notify"
	"github.com/roach88/livesql/internal/provider"
	"github.com/roach88/livesql/internal/schema"
	"github.com/roach88/livesql/internal/watch"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Debounce time.Duration
	Limit    int // stop after this many refreshes; 0 watches until interrupted
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <uri>",
		Short: "Print a uri's rows whenever they change",
		Long: `Print the rows a uri addresses, then print them again each time any
process writes the database file.

Example:
  livesql watch notes --db app.db
  livesql watch notes/3 --db app.db --debounce 50ms --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Debounce, "debounce", watch.DefaultDebounce, "quiet period before a change is reported")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "exit after this many refreshes (0 = until interrupted)")

	return cmd
}

func runWatch(opts *WatchOptions, rawURI string, cmd *cobra.Command) (err error) {
	f := newFormatter(opts.RootOptions, cmd)

	db, p, err := openDatabase(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeDatabase(db, &err)

	cfg := db.Config()
	if cfg.InMemory() {
		return fail(f, ExitCommandError, CodeInput, "cannot watch", errors.New("in-memory database"))
	}
	uri, err := parseURI(cfg.Authority, rawURI)
	if err != nil {
		return fail(f, ExitCommandError, CodeURI, "invalid uri", err)
	}
	if _, err := p.Type(uri); err != nil {
		return failStatement(f, "unknown uri", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	changes := make(chan struct{}, 1)
	reg := db.Bus().Register(uri.Base(), true, notify.ObserverFunc(func(notify.Change) {
		select {
		case changes <- struct{}{}:
		default:
		}
	}))
	defer reg.Unregister()

	if err := printRows(ctx, f, p, uri); err != nil {
		return err
	}

	w := watch.New(cfg.Database, watch.ResourceList{uri.Base()}, db.Bus()).WithDebounce(opts.Debounce)
	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Watch(ctx) }()

	refreshes := 0
	for {
		select {
		case <-changes:
			if err := printRows(ctx, f, p, uri); err != nil {
				cancel()
				<-watchErr
				return err
			}
			refreshes++
			if opts.Limit > 0 && refreshes >= opts.Limit {
				cancel()
				<-watchErr
				return nil
			}

		case err := <-watchErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fail(f, ExitFailure, CodeOpen, "watch failed", err)
			}
			return nil
		}
	}
}

func printRows(ctx context.Context, f *OutputFormatter, p *provider.Provider, uri schema.ResourceID) error {
	return printQuery(ctx, f, p, uri, nil, "", nil, "")
}
