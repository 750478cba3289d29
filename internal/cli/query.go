package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/livesql/internal/provider"
	"github.com/roach88/livesql/internal/schema"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Columns []string
	Where   string
	Args    []string
	OrderBy string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <uri>",
		Short: "Print the rows a uri addresses",
		Long: `Print the rows of a table, or the single row a uri addresses.

Example:
  livesql query notes --db app.db
  livesql query notes --where "rank > ?" --arg 2 --order "rank DESC"
  livesql query content://livesql/notes/3 --columns _id,title --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "columns to select (default all)")
	cmd.Flags().StringVar(&opts.Where, "where", "", "WHERE clause with ? placeholders")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "value bound to the next placeholder (repeatable)")
	cmd.Flags().StringVar(&opts.OrderBy, "order", "", `ORDER BY terms, e.g. "rank DESC, title"`)

	return cmd
}

func runQuery(opts *QueryOptions, rawURI string, cmd *cobra.Command) (err error) {
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

	return printQuery(commandContext(cmd), f, p, uri, opts.Columns, opts.Where, parseValues(opts.Args), opts.OrderBy)
}

// printQuery runs a provider query and writes its rows through f.
func printQuery(ctx context.Context, f *OutputFormatter, p *provider.Provider, uri schema.ResourceID, columns []string, where string, whereArgs []any, orderBy string) error {
	cursor, err := p.Query(ctx, uri, columns, where, whereArgs, orderBy)
	if err != nil {
		return failStatement(f, "query failed", err)
	}
	rows := cursor.Maps()

	f.VerboseLog("%d row(s) from %s", len(rows), uri)
	return f.Rows(uri.String(), cursor.Columns(), rows)
}

// NewTypeCommand creates the type command.
func NewTypeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "type <uri>",
		Short: "Print the MIME type of a uri",
		Long: `Print the MIME type of the data a uri addresses: a directory type for
a table, an item type for a single row.

Example:
  livesql type notes/3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runType(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runType(opts *RootOptions, rawURI string, cmd *cobra.Command) (err error) {
	f := newFormatter(opts, cmd)

	db, p, err := openDatabase(opts, cmd, f)
	if err != nil {
		return err
	}
	defer closeDatabase(db, &err)

	uri, err := parseURI(db.Config().Authority, rawURI)
	if err != nil {
		return fail(f, ExitCommandError, CodeURI, "invalid uri", err)
	}
	typ, err := p.Type(uri)
	if err != nil {
		return failStatement(f, "unknown uri", err)
	}
	return f.Success(typ)
}
