// Package options contains the common CLI flags and helper functions
// shared by the zkapauthorizer commands, grounded on the teacher's
// cli/options package (config-file loading, debug logging overrides).
package options

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	zkapconfig "github.com/privatestorage/zkapauthorizer/config"
)

// ConfigFile is the flag identifying which configuration file to load.
var ConfigFile = &cli.StringFlag{
	Name:    "config-file",
	Aliases: []string{"c"},
	Usage:   "Path to the zkapauthorizer configuration file",
	Value:   "zkapauthorizer.yml",
}

// RelativePath is the flag giving the directory relative paths in the
// config file are resolved against.
var RelativePath = &cli.StringFlag{
	Name:  "relative-path",
	Usage: "Prefix to all relative paths in the configuration file",
}

// Debug enables debug-level logging regardless of configuration.
var Debug = &cli.BoolFlag{
	Name:    "debug",
	Aliases: []string{"d"},
	Usage:   "Enable debug logging, overrides configuration",
}

// ForceTimestampLogs enables timestamp logging even when stdout isn't a
// terminal.
var ForceTimestampLogs = &cli.BoolFlag{
	Name:  "force-timestamp-logs",
	Usage: "Enable timestamps for log entries",
}

// ConfigFlags are the flags every config-consuming command accepts.
var ConfigFlags = []cli.Flag{ConfigFile, RelativePath, Debug, ForceTimestampLogs}

// LoadConfig loads and validates the configuration named by the
// command's flags.
func LoadConfig(ctx *cli.Context) (zkapconfig.Config, error) {
	return zkapconfig.LoadFile(ctx.String(ConfigFile.Name), ctx.String(RelativePath.Name))
}

// NewLogger builds a *zap.Logger from the Logger configuration section,
// following the teacher's HandleLoggingParams: console encoding and
// info level by default, overridable by config or the --debug flag,
// ISO8601 timestamps only when attached to a terminal (or forced).
func NewLogger(ctx *cli.Context, cfg zkapconfig.Logger) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if ctx != nil && ctx.Bool(Debug.Name) {
		level = zapcore.DebugLevel
	}

	encoding := "console"
	if cfg.LogEncoding != "" {
		encoding = cfg.LogEncoding
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.Encoding = encoding
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	forceTimestamps := ctx != nil && ctx.Bool(ForceTimestampLogs.Name)
	if term.IsTerminal(int(os.Stdout.Fd())) || forceTimestamps || (cfg.LogTimestamp != nil && *cfg.LogTimestamp) {
		cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cc.EncoderConfig.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	}

	if cfg.LogPath != "" {
		cc.OutputPaths = []string{cfg.LogPath}
	}

	return cc.Build()
}

// VersionPrinter prints the binary's version information in the
// teacher's format.
func VersionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "zkapauthorizer\nVersion: %s\nGoVersion: %s\n", c.App.Version, runtime.Version())
}
