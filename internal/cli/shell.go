package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sheetfs/internal/sheets"
)

const shellPrompt = "sheetfs> "

// lineSource is the part of liner.State the shell needs. Piped input uses
// a plain scanner so scripts and tests work without a terminal.
type lineSource interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

type scannerSource struct {
	sc *bufio.Scanner
}

func (s *scannerSource) Prompt(string) (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return s.sc.Text(), nil
}

func (s *scannerSource) AppendHistory(string) {}

func (s *scannerSource) Close() error { return nil }

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags:       flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage:       "shell",
		Short:       "Interactive prompt for sheetfs commands",
		Interactive: true,
		Long: `Start an interactive prompt. Each line is a sheetfs command without the
"sheetfs" prefix, e.g. 'read budget A1:C3'. Quote arguments with ' or ".

The data directory stays open (and indexed) for the whole session.
Type 'exit' or press Ctrl-D to leave.`,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			return runShell(ctx, a, io)
		},
	}
}

func runShell(ctx context.Context, a *app, o *IO) error {
	commands := make([]*Command, 0)

	for _, c := range a.commands() {
		if !c.Interactive {
			commands = append(commands, c)
		}
	}

	src, history := a.lineSource(commands)
	defer func() { _ = src.Close() }()

	for ctx.Err() == nil {
		line, err := src.Prompt(shellPrompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		src.AppendHistory(line)

		args, err := splitWords(line)
		if err != nil {
			o.ErrPrintln("error:", err)

			continue
		}

		switch args[0] {
		case "exit", "quit":
			return history()
		case "help", "?":
			for _, c := range commands {
				o.Println(c.HelpLine())
			}

			continue
		}

		cmd, ok := lookup(commands, args[0])
		if !ok {
			o.ErrPrintln("error: unknown command:", args[0], "(type 'help' for commands)")

			continue
		}

		cmd.reset()
		cmd.Run(ctx, NewIO(o.out, o.errOut), args[1:])
	}

	return history()
}

// lineSource returns liner for an interactive stdin and a scanner
// otherwise, plus a func that saves history on exit.
func (a *app) lineSource(commands []*Command) (lineSource, func() error) {
	if a.stdin != os.Stdin || !liner.TerminalSupported() {
		in := a.stdin
		if in == nil {
			in = strings.NewReader("")
		}

		return &scannerSource{sc: bufio.NewScanner(in)}, func() error { return nil }
	}

	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range commands {
			if strings.HasPrefix(c.Name(), line) {
				out = append(out, c.Name())
			}
		}

		return out
	})

	path := filepath.Join(a.cfg.DataDirAbs, sheets.StateDir, "history")

	if f, err := os.Open(path); err == nil {
		_, _ = state.ReadHistory(f)
		_ = f.Close()
	}

	return state, func() error {
		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return err
		}

		f, err := os.Create(path)
		if err != nil {
			return err
		}

		_, err = state.WriteHistory(f)

		return errors.Join(err, f.Close())
	}
}

var errUnterminatedQuote = errors.New("unterminated quote")

// splitWords splits a shell line on whitespace. Single and double quotes
// group words; there are no escapes.
func splitWords(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				words = append(words, cur.String())
				cur.Reset()

				inToken = false
			}
		default:
			cur.WriteRune(r)

			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: %c", errUnterminatedQuote, quote)
	}

	if inToken {
		words = append(words, cur.String())
	}

	return words, nil
}
