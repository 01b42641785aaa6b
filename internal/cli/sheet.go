package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

// CreateCmd returns the create command.
func CreateCmd(a *app) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.StringP("data", "d", "", "Initial rows as JSON or CSV, '-' reads stdin")
	fs.Bool("json", false, "Print the descriptor as JSON")

	return &Command{
		Flags: fs,
		Usage: "create <name> [flags]",
		Short: "Create a spreadsheet, prints its ID",
		Long: `Create a new spreadsheet. Prints the spreadsheet ID on success.

The data file is named after <name>; a suffix is added when the name is taken.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("create takes exactly one <name>")
			}

			var rows [][]string

			if data, _ := fs.GetString("data"); data != "" {
				var err error

				rows, err = parseValues(data, a.stdin)
				if err != nil {
					return err
				}
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			d, err := svc.Create(ctx, args[0], rows)
			if err != nil {
				return err
			}

			if asJSON, _ := fs.GetBool("json"); asJSON {
				return io.JSON(d)
			}

			io.Println(d.ID)

			return nil
		},
	}
}

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.Bool("json", false, "Print descriptors as JSON")

	return &Command{
		Flags: fs,
		Usage: "ls [flags]",
		Short: "List spreadsheets",
		Long:  "List all spreadsheets, oldest first. Tabs are listed with 'tabs'.",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			list, err := svc.List(ctx)
			if err != nil {
				return err
			}

			if asJSON, _ := fs.GetBool("json"); asJSON {
				if list == nil {
					list = []registry.Descriptor{}
				}

				return io.JSON(list)
			}

			for _, d := range list {
				io.Printf("%s\t%s\t%s\n", d.ID, d.Name, d.File)
			}

			return nil
		},
	}
}

// ReadCmd returns the read command.
func ReadCmd(a *app) *Command {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.Bool("json", false, "Print values as a JSON array of rows")

	return &Command{
		Flags: fs,
		Usage: "read <id> [range]",
		Short: "Print cells as CSV",
		Long: `Print the cells of a spreadsheet inside an A1 range as CSV.

Without a range the whole sheet is printed. Prefix the range with
"Title!" to read a tab, e.g. 'Q1!A1:C10'.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return usageErr("read takes <id> and an optional [range]")
			}

			rng := ""
			if len(args) == 2 {
				rng = args[1]
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			values, err := svc.ReadRange(ctx, args[0], rng)
			if err != nil {
				return err
			}

			if asJSON, _ := fs.GetBool("json"); asJSON {
				return io.JSON(values)
			}

			_, err = io.Write(grid.Encode(values))

			return err
		},
	}
}

// WriteCmd returns the write command.
func WriteCmd(a *app) *Command {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "write <id> <range> <values>",
		Short: "Overwrite cells starting at a range",
		Long: `Overwrite cells starting at the top-left cell of <range>.

<values> is a JSON array of rows ('[["a","b"]]') or CSV text; '-' reads
it from stdin. The sheet grows as needed.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 3 {
				return usageErr("write takes <id> <range> <values>")
			}

			values, err := parseValues(args[2], a.stdin)
			if err != nil {
				return err
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			upd, err := svc.WriteRange(ctx, args[0], args[1], values)
			if err != nil {
				return err
			}

			printUpdate(io, upd)

			return nil
		},
	}
}

// AppendCmd returns the append command.
func AppendCmd(a *app) *Command {
	fs := flag.NewFlagSet("append", flag.ContinueOnError)
	fs.String("mode", grid.ModeAppend.String(), "APPEND (alias INSERT_ROWS) or FILL_FIRST_BLANK (alias OVERWRITE)")

	return &Command{
		Flags: fs,
		Usage: "append <id> <values> [flags]",
		Short: "Append rows after the last row",
		Long: `Append rows after the last row of a spreadsheet.

<values> is JSON or CSV, '-' reads stdin. With FILL_FIRST_BLANK, writing
starts at the first blank row instead of after the last row.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 2 {
				return usageErr("append takes <id> <values>")
			}

			modeFlag, _ := fs.GetString("mode")

			mode, err := grid.ParseMode(modeFlag)
			if err != nil {
				return err
			}

			values, err := parseValues(args[1], a.stdin)
			if err != nil {
				return err
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			upd, err := svc.AppendRows(ctx, args[0], values, mode)
			if err != nil {
				return err
			}

			printUpdate(io, upd)

			return nil
		},
	}
}

// BatchCmd returns the batch command.
func BatchCmd(a *app) *Command {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "batch <id> <requests>",
		Short: "Apply updateCells/appendCells operations",
		Long: `Apply a batch of operations with a single save.

<requests> is a JSON array of operations or {"requests": [...]}; '-' reads
stdin. Unknown operation kinds are skipped and reported as a warning.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 2 {
				return usageErr("batch takes <id> <requests>")
			}

			raw, err := readArg(args[1], a.stdin)
			if err != nil {
				return err
			}

			ops, err := grid.DecodeOperations(raw)
			if err != nil {
				return err
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			res, err := svc.BatchApply(ctx, args[0], ops)
			if err != nil {
				return err
			}

			if skipped := res.Total - res.Applied; skipped > 0 {
				io.Warn(fmt.Sprintf("%d of %d operations were not recognized", skipped, res.Total),
					"only updateCells and appendCells are supported")
			}

			io.Printf("applied %d of %d operations\n", res.Applied, res.Total)

			return nil
		},
	}
}

// QueryCmd returns the query command.
func QueryCmd(a *app) *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.Bool("json", false, "Print {headers, rows} as JSON")

	return &Command{
		Flags: fs,
		Usage: "query <id> <sql>",
		Short: "Run a SELECT over a sheet",
		Long: `Run a query against a sheet whose first row holds column headers.

Supported: SELECT <cols|*> [FROM <tab>] [WHERE col = 'v' [AND ...]]
[ORDER BY col [ASC|DESC]]. Output is CSV with a header row.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) < 2 {
				return usageErr("query takes <id> <sql>")
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			res, err := svc.Query(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			if asJSON, _ := fs.GetBool("json"); asJSON {
				return io.JSON(res)
			}

			_, err = io.Write(grid.Encode(append(grid.Grid{res.Headers}, res.Rows...)))

			return err
		},
	}
}

// ExportCmd returns the export command.
func ExportCmd(a *app) *Command {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringP("output", "o", "", "Write the workbook to `file` instead of stdout")

	return &Command{
		Flags: fs,
		Usage: "export <id> [flags]",
		Short: "Export a spreadsheet and its tabs as .xlsx",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("export takes exactly one <id>")
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			var buf bytes.Buffer

			err = svc.Export(ctx, args[0], &buf)
			if err != nil {
				return err
			}

			out, _ := fs.GetString("output")
			if out == "" {
				_, err = io.Write(buf.Bytes())

				return err
			}

			if !filepath.IsAbs(out) {
				out = filepath.Join(a.cfg.EffectiveCwd, out)
			}

			err = atomic.WriteFile(out, &buf)
			if err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			io.Println(out)

			return nil
		},
	}
}

// ReindexCmd returns the reindex command.
func ReindexCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("reindex", flag.ContinueOnError),
		Usage: "reindex",
		Short: "Rebuild the registry index from descriptor files",
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			n, err := svc.Reindex(ctx)
			if err != nil {
				return err
			}

			io.Printf("indexed %d descriptors\n", n)

			return nil
		},
	}
}

func printUpdate(io *IO, upd grid.Update) {
	io.Printf("updated %d rows, %d columns\n", upd.Rows, upd.Columns)
}

// readArg returns arg, or all of stdin when arg is "-".
func readArg(arg string, stdin io.Reader) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}

	if stdin == nil {
		return nil, usageErr("'-' given but no stdin")
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}

	return data, nil
}

// parseValues accepts a JSON array of rows or CSV text.
func parseValues(arg string, stdin io.Reader) ([][]string, error) {
	raw, err := readArg(arg, stdin)
	if err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)

	if bytes.HasPrefix(raw, []byte("[")) {
		var rows [][]string

		err = json.Unmarshal(raw, &rows)
		if err != nil {
			return nil, fmt.Errorf("values: %w", err)
		}

		return rows, nil
	}

	g, err := grid.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}

	return g, nil
}
