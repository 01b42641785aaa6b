package cli

import (
	"context"
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"
)

type tabLine struct {
	TabID int64  `json:"sheet_id"`
	Title string `json:"title"`
	File  string `json:"file"`
}

// TabsCmd returns the tabs command.
func TabsCmd(a *app) *Command {
	fs := flag.NewFlagSet("tabs", flag.ContinueOnError)
	fs.Bool("json", false, "Print tabs as JSON")

	return &Command{
		Flags: fs,
		Usage: "tabs <id>",
		Short: "List the tabs of a spreadsheet",
		Long:  "List the tabs of a spreadsheet. The spreadsheet itself is tab 0.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 1 {
				return usageErr("tabs takes exactly one <id>")
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			tabs, err := svc.Tabs(ctx, args[0])
			if err != nil {
				return err
			}

			lines := make([]tabLine, 0, len(tabs))
			for _, t := range tabs {
				lines = append(lines, tabLine{TabID: t.TabID, Title: t.Name, File: t.File})
			}

			if asJSON, _ := fs.GetBool("json"); asJSON {
				return io.JSON(lines)
			}

			for _, l := range lines {
				io.Printf("%d\t%s\t%s\n", l.TabID, l.Title, l.File)
			}

			return nil
		},
	}
}

// AddTabCmd returns the add-tab command.
func AddTabCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("add-tab", flag.ContinueOnError),
		Usage: "add-tab <id> <title>",
		Short: "Add a tab, prints its sheet id",
		Long: `Add a tab to a spreadsheet. Prints the new tab's numeric sheet id.

Titles are unique per spreadsheet. Address the tab in ranges as "<title>!A1".`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 2 {
				return usageErr("add-tab takes <id> <title>")
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			tab, err := svc.AddTab(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			io.Println(tab.TabID)

			return nil
		},
	}
}

// DeleteTabCmd returns the delete-tab command.
func DeleteTabCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("delete-tab", flag.ContinueOnError),
		Usage: "delete-tab <id> <sheet-id>",
		Short: "Delete a tab and its data",
		Long:  "Delete a tab, its data file and its formatting. Tab 0 cannot be deleted.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			if len(args) != 2 {
				return usageErr("delete-tab takes <id> <sheet-id>")
			}

			tabID, err := parseTabID(args[1])
			if err != nil {
				return err
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			err = svc.DeleteTab(ctx, args[0], tabID)
			if err != nil {
				return err
			}

			io.Println("deleted", tabID)

			return nil
		},
	}
}

func parseTabID(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sheet id must be an integer, got %q", errUsage, s)
	}

	return n, nil
}
