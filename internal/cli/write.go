package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// WriteOptions holds flags for the update and delete commands.
type WriteOptions struct {
	*RootOptions
	Where string
	Args  []string
}

// WriteResult reports how many rows a statement changed.
type WriteResult struct {
	URI      string `json:"uri"`
	Affected int64  `json:"affected"`
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert <uri> <column=value>...",
		Short: "Insert a row",
		Long: `Insert a row and print its uri.

Values are read as NULL, integers or reals when they parse as such and as
text otherwise; quote a value to force text. A row uri sets _id.

Example:
  livesql insert notes title=hello rank=3
  livesql insert notes/40 title="'007'"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(rootOpts, args[0], args[1:], cmd)
		},
	}

	return cmd
}

func runInsert(opts *RootOptions, rawURI string, assignments []string, cmd *cobra.Command) (err error) {
	f := newFormatter(opts, cmd)

	values, err := parseAssignments(assignments)
	if err != nil {
		return fail(f, ExitCommandError, CodeInput, "invalid values", err)
	}

	db, p, err := openDatabase(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeDatabase(db, &err)

	uri, err := parseURI(db.Config().Authority, rawURI)
	if err != nil {
		return fail(f, ExitCommandError, CodeURI, "invalid uri", err)
	}

	rowURI, err := p.Insert(commandContext(cmd), uri, values)
	if err != nil {
		return failStatement(f, "insert failed", err)
	}
	if f.Format == "json" {
		return f.Success(map[string]string{"uri": rowURI.String()})
	}
	return f.Success(rowURI.String())
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <uri> <column=value>...",
		Short: "Update rows",
		Long: `Set columns on the rows a uri addresses and print how many changed.

Example:
  livesql update notes/3 title=renamed
  livesql update notes rank=0 --where "rank > ?" --arg 10`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "", "WHERE clause with ? placeholders")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "value bound to the next placeholder (repeatable)")

	return cmd
}

func runUpdate(opts *WriteOptions, rawURI string, assignments []string, cmd *cobra.Command) (err error) {
	f := newFormatter(opts.RootOptions, cmd)

	values, err := parseAssignments(assignments)
	if err != nil {
		return fail(f, ExitCommandError, CodeInput, "invalid values", err)
	}

	db, p, err := openDatabase(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeDatabase(db, &err)

	uri, err := parseURI(db.Config().Authority, rawURI)
	if err != nil {
		return fail(f, ExitCommandError, CodeURI, "invalid uri", err)
	}

	n, err := p.Update(commandContext(cmd), uri, values, opts.Where, parseValues(opts.Args))
	if err != nil {
		return failStatement(f, "update failed", err)
	}
	return outputWrite(f, WriteResult{URI: uri.String(), Affected: n}, "updated")
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <uri>",
		Short: "Delete rows",
		Long: `Delete the rows a uri addresses and print how many were removed.

Example:
  livesql delete notes/3
  livesql delete notes --where "title LIKE ?" --arg 'draft%'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "", "WHERE clause with ? placeholders")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "value bound to the next placeholder (repeatable)")

	return cmd
}

func runDelete(opts *WriteOptions, rawURI string, cmd *cobra.Command) (err error) {
	f := newFormatter(opts.RootOptions, cmd)

	db, p, err := openDatabase(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer closeDatabase(db, &err)

	uri, err := parseURI(db.Config().Authority, rawURI)
	if err != nil {
		return fail(f, ExitCommandError, CodeURI, "invalid uri", err)
	}

	n, err := p.Delete(commandContext(cmd), uri, opts.Where, parseValues(opts.Args))
	if err != nil {
		return failStatement(f, "delete failed", err)
	}
	return outputWrite(f, WriteResult{URI: uri.String(), Affected: n}, "deleted")
}

func outputWrite(f *OutputFormatter, res WriteResult, verb string) error {
	if f.Format == "json" {
		return f.Success(res)
	}
	return f.Success(fmt.Sprintf("%s %d row(s)", verb, res.Affected))
}
