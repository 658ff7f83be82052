package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tracelab/startupcal/internal/config"
	"github.com/tracelab/startupcal/internal/logging"
	intOtel "github.com/tracelab/startupcal/internal/otel"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "startupcal"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZeroLogger is handed to the managers that log with zerolog
	ZeroLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFile *os.File

	SessionStartTime time.Time = time.Now()

	// closed in reverse order on exit
	closers []io.Closer
)

const usage = `usage: startupcal <configDir> <command> [args]

commands:
  show <traceFolder>...                          print persisted calibrations
  commit <trace.json> <startupSeconds> [frames]  commit a startup time for a trace
  migratebackups <dir>                           copy calibrations from sqlite dumps in dir
  version                                        print version`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	setupLogging(args[0])
	defer shutdown()
	Logger.Info("Starting up...", "version", CurrentVersion, "buildDate", BuildDate)

	ctx := context.Background()
	var err error
	switch strings.ToLower(args[1]) {
	case "show":
		if len(args) < 3 {
			fmt.Println("No trace folders provided.")
			return 2
		}
		err = showCalibrations(args[2:])
	case "commit":
		if len(args) < 4 {
			fmt.Println("Expected a trace file and a startup time.")
			return 2
		}
		err = commitCalibration(ctx, args[2:])
	case "migratebackups":
		if len(args) < 3 {
			fmt.Println("No backup directory provided.")
			return 2
		}
		err = migrateBackups(args[2])
	case "version":
		fmt.Printf("%s %s (%s)\n", AppName, CurrentVersion, BuildDate)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	if err != nil {
		Logger.Error("Command failed", "command", args[1], "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// setupLogging loads the config and wires slog (file, OTel, GELF) and zerolog.
// Failures degrade to console logging.
func setupLogging(configDir string) {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "path", viper.ConfigFileUsed())
	}

	var err error
	LogFile, err = logging.OpenLogFile(viper.GetString("logsDir"), AppName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err)
	} else {
		closers = append(closers, LogFile)
	}

	// a nil *os.File must not end up inside an io.Writer
	var file io.Writer
	logOut := io.Writer(os.Stderr)
	if LogFile != nil {
		file = LogFile
		logOut = LogFile
	}
	ZeroLogger = zerolog.New(logOut).With().Timestamp().Str("app", AppName).Logger()

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(otelCfg, file)
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			// dispatcher and extraction counters record to the global meter
			OTelProvider.Register()
			if otelCfg.Endpoint != "" {
				Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
			} else {
				Logger.Info("OTel provider initialized")
			}
		}
	}

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, viper.GetString("logLevel"))
		if err != nil {
			Logger.Error("Failed to set up Graylog handler", "address", gl.Address, "error", err)
		} else {
			extra = append(extra, h)
			closers = append(closers, closer)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(file, viper.GetString("logLevel"), otelLogProvider, extra...)
	Logger = SlogManager.Logger()
	if LogFile != nil {
		Logger.Info("Logging to file", "path", LogFile.Name())
	}
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to shut down OTel provider:", err)
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}
