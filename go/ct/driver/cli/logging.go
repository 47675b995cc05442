// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package cliUtils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logLevelFlagType struct {
	cli.StringFlag
}

var LogLevelFlag = &logLevelFlagType{
	cli.StringFlag{
		Name:  "log.level",
		Usage: "log level, one of trace, debug, info, warn, error, crit",
		Value: "warn",
	},
}

var logLevels = map[string]slog.Level{
	"trace": log.LevelTrace,
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
	"crit":  log.LevelCrit,
}

func (f *logLevelFlagType) Fetch(context *cli.Context) (slog.Level, error) {
	name := strings.ToLower(context.String(f.Name))
	level, found := logLevels[name]
	if !found {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

type logFileFlagType struct {
	cli.StringFlag
}

var LogFileFlag = &logFileFlagType{
	cli.StringFlag{
		Name:      "log.file",
		Usage:     "write logs to the provided rotated file instead of stderr",
		TakesFile: true,
	},
}

func (f *logFileFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type logJSONFlagType struct {
	cli.BoolFlag
}

var LogJSONFlag = &logJSONFlagType{
	cli.BoolFlag{
		Name:  "log.json",
		Usage: "format logs as JSON",
	},
}

func (f *logJSONFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

// LogFlags configure the logger installed by SetupLogging.
var LogFlags = []cli.Flag{
	LogLevelFlag,
	LogFileFlag,
	LogJSONFlag,
}

// Log file rotation limits.
const (
	logFileMaxSizeMB  = 100
	logFileMaxBackups = 10
	logFileMaxAgeDays = 30
)

// SetupLogging installs the root logger configured by the log flags. The
// returned closer releases the log file, if any.
func SetupLogging(context *cli.Context) (io.Closer, error) {
	level, err := LogLevelFlag.Fetch(context)
	if err != nil {
		return nil, err
	}

	var out io.WriteCloser = nopCloser{os.Stderr}
	useColor := isTerminal(os.Stderr)
	if path := LogFileFlag.Fetch(context); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
			Compress:   true,
		}
		useColor = false
	}

	var handler slog.Handler
	if LogJSONFlag.Fetch(context) {
		handler = log.JSONHandlerWithLevel(out, level)
	} else {
		handler = log.NewTerminalHandlerWithLevel(out, level, useColor)
	}
	log.SetDefault(log.NewLogger(handler))

	// The report is colored only when written to a terminal.
	color.NoColor = !isTerminal(os.Stdout)
	return out, nil
}

func isTerminal(file *os.File) bool {
	fd := file.Fd()
	return (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("TERM") != "dumb"
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
