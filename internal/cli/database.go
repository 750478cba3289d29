package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livesql/internal/config"
	"github.com/roach88/livesql/internal/livedb"
	"github.com/roach88/livesql/internal/provider"
	"github.com/roach88/livesql/internal/schema"
	"github.com/roach88/livesql/internal/store"
)

// newFormatter builds the formatter for a command's output streams.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads --config, falling back to the in-memory defaults, and
// applies --db.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openDatabase loads the configuration and opens the database. Failures are
// reported through f and returned as ExitErrors.
func openDatabase(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*livedb.DB, *provider.Provider, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, fail(f, ExitCommandError, CodeConfig, "failed to load configuration", err)
	}

	f.VerboseLog("opening %s (driver %s)", cfg.Database, cfg.Driver)
	db, err := livedb.Open(commandContext(cmd), cfg)
	if err != nil {
		return nil, nil, fail(f, ExitCommandError, CodeOpen, "failed to open database", err)
	}

	// The CLI has no entity types, so any table is addressable.
	p := provider.New(db.Store(), db.Bus())
	return db, p, nil
}

// fail reports err through f and wraps it with an exit code.
func fail(f *OutputFormatter, exit int, code, message string, err error) error {
	_ = f.Error(code, message, err.Error())
	return WrapExitError(exit, message, err)
}

// failStatement classifies an error from a provider call.
func failStatement(f *OutputFormatter, message string, err error) error {
	switch {
	case provider.IsUnknownURI(err):
		return fail(f, ExitCommandError, CodeURI, message, err)
	case store.IsStorageEngineError(err):
		return fail(f, ExitFailure, CodeStorage, message, err)
	default:
		return fail(f, ExitCommandError, CodeInput, message, err)
	}
}

// parseURI reads a full resource identifier, or a "<table>[/<id>]" path
// under authority.
func parseURI(authority, s string) (schema.ResourceID, error) {
	if strings.Contains(s, "://") {
		return schema.Parse(s)
	}
	path := strings.Trim(s, "/")
	if path == "" {
		return schema.ResourceID{}, fmt.Errorf("parse resource id %q: empty path", s)
	}
	return schema.NewResourceID(authority, strings.Split(path, "/")...), nil
}

// parseValue reads a command-line value: NULL, an integer, a real, or text.
// Single or double quotes force text.
func parseValue(s string) any {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if strings.EqualFold(s, "null") {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return x
	}
	return s
}

// parseValues applies parseValue to each argument.
func parseValues(args []string) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, parseValue(a))
	}
	return out
}

// parseAssignments reads "column=value" arguments.
func parseAssignments(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, a := range args {
		column, value, ok := strings.Cut(a, "=")
		if !ok || column == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected column=value", a)
		}
		if _, dup := values[column]; dup {
			return nil, fmt.Errorf("column %q assigned twice", column)
		}
		values[column] = parseValue(value)
	}
	return values, nil
}

// closeDatabase closes db and reports a close failure through err unless
// the command already failed.
func closeDatabase(db *livedb.DB, err *error) {
	if closeErr := db.Close(); closeErr != nil && *err == nil {
		*err = WrapExitError(ExitFailure, "failed to close database", closeErr)
	}
}

// commandContext returns the command's context, or Background when run
// outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
