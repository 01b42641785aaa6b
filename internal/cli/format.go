package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"
)

func tabFlag(fs *flag.FlagSet) {
	fs.Int64("tab", 0, "Numeric sheet id of the tab (0 is the spreadsheet itself)")
}

// jsonArg reads a JSON payload argument, '-' meaning stdin.
func (a *app) jsonArg(arg string) (json.RawMessage, error) {
	raw, err := readArg(arg, a.stdin)
	if err != nil {
		return nil, err
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", errUsage)
	}

	return raw, nil
}

// FormatCmd returns the format command.
func FormatCmd(a *app) *Command {
	fs := flag.NewFlagSet("format", flag.ContinueOnError)
	tabFlag(fs)

	return &Command{
		Flags: fs,
		Usage: "format <id> <range> <json> [flags]",
		Short: "Store cell formatting for a range",
		Long: `Store a formatting record for a range. The JSON is kept as given and
replaces any earlier record for the same range.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 3 {
				return usageErr("format takes <id> <range> <json>")
			}

			payload, err := a.jsonArg(args[2])
			if err != nil {
				return err
			}

			tab, _ := fs.GetInt64("tab")

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			err = svc.FormatCells(ctx, args[0], tab, args[1], payload)
			if err != nil {
				return err
			}

			io.Println("formatted", args[1])

			return nil
		},
	}
}

// FilterCmd returns the filter command.
func FilterCmd(a *app) *Command {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	tabFlag(fs)
	fs.String("title", "", "Filter view title")

	return &Command{
		Flags: fs,
		Usage: "filter <id> <range> [flags]",
		Short: "Create a filter view, prints its id",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 2 {
				return usageErr("filter takes <id> <range>")
			}

			tab, _ := fs.GetInt64("tab")
			title, _ := fs.GetString("title")

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			id, err := svc.CreateFilter(ctx, args[0], tab, args[1], title)
			if err != nil {
				return err
			}

			io.Println(id)

			return nil
		},
	}
}

// FreezeCmd returns the freeze command.
func FreezeCmd(a *app) *Command {
	fs := flag.NewFlagSet("freeze", flag.ContinueOnError)
	tabFlag(fs)
	fs.Int("rows", 0, "Frozen rows")
	fs.Int("columns", 0, "Frozen columns")

	return &Command{
		Flags: fs,
		Usage: "freeze <id> [flags]",
		Short: "Set frozen rows and columns",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("freeze takes exactly one <id>")
			}

			tab, _ := fs.GetInt64("tab")
			rows, _ := fs.GetInt("rows")
			cols, _ := fs.GetInt("columns")

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			err = svc.FreezePanes(ctx, args[0], tab, rows, cols)
			if err != nil {
				return err
			}

			io.Printf("frozen %d rows, %d columns\n", rows, cols)

			return nil
		},
	}
}

// CondFormatCmd returns the cond-format command.
func CondFormatCmd(a *app) *Command {
	fs := flag.NewFlagSet("cond-format", flag.ContinueOnError)
	tabFlag(fs)
	fs.String("type", "", "Rule type, e.g. NUMBER_GREATER or TEXT_CONTAINS")

	return &Command{
		Flags: fs,
		Usage: "cond-format <id> <range> <json> [flags]",
		Short: "Add a conditional format rule, prints its id",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 3 {
				return usageErr("cond-format takes <id> <range> <json>")
			}

			payload, err := a.jsonArg(args[2])
			if err != nil {
				return err
			}

			tab, _ := fs.GetInt64("tab")
			ruleType, _ := fs.GetString("type")

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			id, err := svc.AddConditionalFormat(ctx, args[0], tab, args[1], ruleType, payload)
			if err != nil {
				return err
			}

			io.Println(id)

			return nil
		},
	}
}

// FormattingCmd returns the formatting command.
func FormattingCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("formatting", flag.ContinueOnError),
		Usage: "formatting <id>",
		Short: "Print stored formats and filters as JSON",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("formatting takes exactly one <id>")
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			f, err := svc.Formatting(ctx, args[0])
			if err != nil {
				return err
			}

			return io.JSON(f)
		},
	}
}
