// Package cli implements the sheetfs command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sheetfs/internal/config"
	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/query"
	"github.com/calvinalkan/sheetfs/internal/sheets"
)

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the command's context; a second one exits
// immediately with code 130.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("sheetfs", flag.ContinueOnError)
	globals.SetOutput(&strings.Builder{})
	globals.SetInterspersed(false)

	flagCwd := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globals.StringP("config", "c", "", "Use specified config `file`")
	flagDataDir := globals.String("data-dir", "", "Directory holding the CSV files")
	flagLockMode := globals.String("lock-mode", "", "Locking: file, process or none")
	flagQueryMode := globals.String("query-mode", "", "Query parsing: lenient or strict")
	flagVerbose := globals.BoolP("verbose", "v", false, "Log operations to stderr")
	flagHelp := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()

	cfg, err := config.Load(config.Input{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		Overrides: config.Config{
			DataDir:   *flagDataDir,
			LockMode:  *flagLockMode,
			QueryMode: *flagQueryMode,
		},
		Env: env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger, closeLog := newLogger(cfg, *flagVerbose, errOut)
	defer func() { _ = closeLog() }()

	a := &app{cfg: cfg, stdin: stdin, log: logger}
	defer a.close()

	commands := a.commands()

	if *flagHelp || len(rest) == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	cmd, ok := lookup(commands, rest[0])
	if !ok {
		fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
			case <-done:
				return
			}

			fprintln(errOut, "interrupted, shutting down (signal again to force)")
			cancel()

			select {
			case <-sigCh:
				fprintln(errOut, "forced exit")
				os.Exit(130)
			case <-done:
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), rest[1:])
}

// app holds state shared by the commands of one invocation.
type app struct {
	cfg   config.Config
	stdin io.Reader
	log   *log.Logger

	svc *sheets.Service
}

// service opens the data directory on first use.
func (a *app) service(ctx context.Context) (*sheets.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}

	mode, err := sheets.ParseLockMode(a.cfg.LockMode)
	if err != nil {
		return nil, err
	}

	svc, err := sheets.Open(ctx, a.cfg.DataDirAbs, sheets.Options{
		Logger:      a.log,
		LockMode:    mode,
		LockTimeout: a.cfg.LockTimeoutDur,
		Query:       query.Options{Strict: a.cfg.StrictQueries},
		Limits:      grid.Limits{MaxRows: a.cfg.MaxRows, MaxColumns: a.cfg.MaxColumns},
	})
	if err != nil {
		return nil, err
	}

	a.svc = svc

	return svc, nil
}

func (a *app) close() {
	if a.svc == nil {
		return
	}

	err := a.svc.Close()
	if err != nil {
		a.log.Printf("close: %v", err)
	}
}

func (a *app) commands() []*Command {
	return []*Command{
		CreateCmd(a),
		LsCmd(a),
		ReadCmd(a),
		WriteCmd(a),
		AppendCmd(a),
		BatchCmd(a),
		QueryCmd(a),
		TabsCmd(a),
		AddTabCmd(a),
		DeleteTabCmd(a),
		FormatCmd(a),
		FilterCmd(a),
		FreezeCmd(a),
		CondFormatCmd(a),
		FormattingCmd(a),
		ExportCmd(a),
		ReindexCmd(a),
		ShellCmd(a),
		ServeCmd(a),
		PrintConfigCmd(&a.cfg),
	}
}

func lookup(commands []*Command, name string) (*Command, bool) {
	for _, c := range commands {
		if c.Name() == name {
			return c, true
		}
	}

	return nil, false
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, "sheetfs - spreadsheets stored as CSV files")
	fprintln(w)
	fprintln(w, "Usage: sheetfs [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder

	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})

	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, "Run 'sheetfs <command> --help' for details.")
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

var errUsage = errors.New("usage")

func usageErr(format string, a ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, a...))
}
