package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult reports the database state after opening it.
type MigrateResult struct {
	Database string `json:"database"`
	Driver   string `json:"driver"`
	Version  int    `json:"version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database",
		Long: `Open the configured database and bring it to the configured version.

A new database runs the configuration's create statements. An older one
runs its upgrade statements, or is dropped and recreated when there are
none. A database newer than the configuration is refused.

Example:
  livesql migrate --config app.yaml
  livesql migrate --config app.cue --db /tmp/app.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) (err error) {
	f := newFormatter(opts, cmd)

	db, _, err := openDatabase(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeDatabase(db, &err)

	version, err := db.Store().Version(commandContext(cmd))
	if err != nil {
		return fail(f, ExitFailure, CodeStorage, "failed to read version", err)
	}

	cfg := db.Config()
	res := MigrateResult{Database: cfg.Database, Driver: cfg.Driver, Version: version}
	if f.Format == "json" {
		return f.Success(res)
	}
	return f.Success(fmt.Sprintf("✓ %s at version %d (%s)", res.Database, res.Version, res.Driver))
}
