package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sheetfs/internal/httpapi"
)

// ServeCmd returns the serve command.
func ServeCmd(a *app) *Command {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.String("listen", "", "Address to listen on (default from config)")
	fs.Bool("no-watch", false, "Do not report external changes to data files")

	return &Command{
		Flags:       fs,
		Usage:       "serve [flags]",
		Short:       "Serve the HTTP API",
		Interactive: true,
		Long: `Serve the JSON API over HTTP until interrupted.

GET /ws streams change events, including edits made to the CSV files by
other programs unless --no-watch is given.`,
		Exec: func(ctx context.Context, io *IO, _ []string) error {
			addr, _ := fs.GetString("listen")
			if addr == "" {
				addr = a.cfg.Listen
			}

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			watchDone := make(chan error, 1)

			if noWatch, _ := fs.GetBool("no-watch"); noWatch {
				watchDone <- nil
			} else {
				w, err := httpapi.NewWatcher(a.cfg.DataDirAbs, svc.Events(), a.log)
				if err != nil {
					return err
				}

				go func() { watchDone <- w.Run(ctx) }()
			}

			io.Println("listening on", addr)

			err = httpapi.New(svc, a.log).ListenAndServe(ctx, addr)

			cancel()

			return errors.Join(err, <-watchDone)
		},
	}
}
