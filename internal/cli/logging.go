package cli

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/calvinalkan/sheetfs/internal/config"
)

// newLogger returns the operation logger for one invocation.
//
// Lines go to the rotating log_file when configured and to stderr with
// -v. With neither, logging is discarded.
func newLogger(cfg config.Config, verbose bool, errOut io.Writer) (*log.Logger, func() error) {
	var (
		sinks   []io.Writer
		closeFn = func() error { return nil }
	)

	if cfg.LogFileAbs != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFileAbs,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}

		sinks = append(sinks, rotator)
		closeFn = rotator.Close
	}

	if verbose {
		sinks = append(sinks, errOut)
	}

	switch len(sinks) {
	case 0:
		return log.New(io.Discard, "", 0), closeFn
	case 1:
		return log.New(sinks[0], "sheetfs: ", log.LstdFlags|log.Lmicroseconds), closeFn
	}

	return log.New(io.MultiWriter(sinks...), "sheetfs: ", log.LstdFlags|log.Lmicroseconds), closeFn
}
