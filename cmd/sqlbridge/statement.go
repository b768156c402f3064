package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tomyedwab/sqlbridge/sqlproxy/driver"
	"github.com/tomyedwab/sqlbridge/sqlproxy/host"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

func newExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec DSN SQL [ARGS...]",
		Short: "Execute a statement and report the rows it affected",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			connID, err := openDSN(ctx, a.host, args[0])
			if err != nil {
				return err
			}
			defer a.host.Close(ctx, connID)

			res, err := a.host.Execute(ctx, connID, args[1], parseArgs(args[2:]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rows affected: %d, last insert id: %d\n",
				res.RowsAffected, res.LastInsertID)
			return nil
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query DSN SQL [ARGS...]",
		Short: "Run a query and print its rows as a table",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			connID, err := openDSN(ctx, a.host, args[0])
			if err != nil {
				return err
			}
			defer a.host.Close(ctx, connID)

			info, err := a.host.Query(ctx, connID, args[1], parseArgs(args[2:]))
			if err != nil {
				return err
			}
			return printCursor(ctx, a.host, info, cmd.OutOrStdout())
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openDSN opens a connection described by a driver DSN.
func openDSN(ctx context.Context, h *host.SQLHost, dsn string) (string, error) {
	req, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	return h.Open(ctx, host.OpenOptions{
		Mode:        req.Mode,
		Path:        req.Path,
		URL:         req.URL,
		AuthToken:   req.AuthToken,
		SyncEnabled: req.SyncEnabled,
	})
}

// parseArgs binds command-line arguments as integers or reals when they
// parse as such, and as text otherwise.
func parseArgs(args []string) []types.Value {
	values := make([]types.Value, 0, len(args))
	for _, arg := range args {
		if i, err := strconv.ParseInt(arg, 10, 64); err == nil {
			values = append(values, types.Integer(i))
		} else if f, err := strconv.ParseFloat(arg, 64); err == nil {
			values = append(values, types.Real(f))
		} else {
			values = append(values, types.Text(arg))
		}
	}
	return values
}

// printCursor drains a cursor into a table. Statements without a result set
// print the affected row count instead.
func printCursor(ctx context.Context, h *host.SQLHost, info host.CursorInfo, out io.Writer) error {
	var rows [][]string
	for {
		batch, err := h.Fetch(ctx, info.ID, 0)
		if err != nil {
			return err
		}
		for _, row := range batch.Rows {
			var cells = make([]string, len(row))
			for i, v := range row {
				if v.IsNull() {
					cells[i] = "NULL"
				} else {
					cells[i] = v.String()
				}
			}
			rows = append(rows, cells)
		}
		if batch.Done {
			break
		}
	}

	if len(info.Columns) == 0 {
		fmt.Fprintf(out, "rows affected: %d\n", info.RowsAffected)
		return nil
	}

	var table = tablewriter.NewWriter(out)
	table.Header(info.Columns)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to format row: %w", err)
		}
	}
	return table.Render()
}
