package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger is a type alias for zerolog.Logger.
// We use zerolog directly instead of wrapping it with abstractions.
type Logger = zerolog.Logger

// Config contains logging configuration options.
type Config struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `yaml:"format"`

	// Async enables non-blocking logging through a diode ring buffer.
	// Default: true
	Async bool `yaml:"async"`

	// AsyncBufferSize is the size of the async ring buffer (in messages).
	// Default: 10000
	AsyncBufferSize int `yaml:"async_buffer_size"`

	// AsyncPollInterval is how often the async writer polls for messages (in milliseconds).
	// Default: 100
	AsyncPollInterval int `yaml:"async_poll_interval"`

	// EnableCaller adds caller information (file:line) to logs.
	// Default: false
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Level:             "info",
		Format:            "json",
		Async:             true,
		AsyncBufferSize:   10000,
		AsyncPollInterval: 100,
		EnableCaller:      false,
	}
}

// NewLoggerFromConfig creates a logger writing to stderr.
func NewLoggerFromConfig(config Config) Logger {
	return NewLogger(config, os.Stderr)
}

// NewLogger creates a logger writing to out.
// Text format uses the colored console writer, json writes raw zerolog events.
func NewLogger(config Config, out io.Writer) Logger {
	level := parseLevel(config.Level)

	output := out
	if strings.ToLower(config.Format) == "text" {
		output = zerolog.ConsoleWriter{
			Out:         out,
			TimeFormat:  "15:04:05",
			FormatLevel: consoleLevel,
		}
	}

	if config.Async {
		bufferSize := config.AsyncBufferSize
		if bufferSize <= 0 {
			bufferSize = 10000
		}
		pollInterval := config.AsyncPollInterval
		if pollInterval <= 0 {
			pollInterval = 100
		}

		// The diode drops the oldest messages once the buffer is full.
		output = diode.NewWriter(output, bufferSize, time.Duration(pollInterval)*time.Millisecond, func(missed int) {
			if missed > 0 {
				_, _ = os.Stderr.WriteString("WARN: dropped log messages due to full buffer\n")
			}
		})
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp()
	if config.EnableCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// consoleLevel renders a short colored level tag for the text format.
func consoleLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	switch ll {
	case "debug":
		return "\033[35mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	case "fatal":
		return "\033[31;1mFTL\033[0m"
	case "panic":
		return "\033[31;1mPNC\033[0m"
	default:
		return "???"
	}
}

// parseLevel returns the zerolog.Level for the given string. It returns InfoLevel
// if the string is not recognized.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForComponent returns a logger configured for a specific component.
// This is the preferred way to create component loggers.
func ForComponent(logger Logger, component string) Logger {
	return logger.With().Str(FieldComponent, component).Logger()
}

// ForSession returns a child logger carrying the session id.
func ForSession(logger Logger, sessionID string) Logger {
	return logger.With().Str(FieldSessionID, sessionID).Logger()
}

// ForClaim returns a child logger carrying the session id and queue index of a claim.
func ForClaim(logger Logger, sessionID string, queueIdx int64) Logger {
	return logger.With().
		Str(FieldSessionID, sessionID).
		Int64(FieldQueueIdx, queueIdx).
		Logger()
}

// ReplicaStatusProvider is implemented by components that know whether this
// instance currently owns the claim lane.
type ReplicaStatusProvider interface {
	IsLeader() bool
}

// replicaHook adds the current replica role to every event.
type replicaHook struct {
	provider   ReplicaStatusProvider
	instanceID string
}

// Run adds the dynamic replica field to each log event.
func (h *replicaHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	if h.provider == nil {
		return
	}

	replica := ReplicaStandby
	if h.provider.IsLeader() {
		replica = ReplicaLeader
	}
	e.Str("replica", replica).Str(FieldInstance, h.instanceID)
}

// ForInstanceDynamic returns a logger whose replica field is evaluated at log
// time, so lane ownership changes show up without rebuilding loggers.
func ForInstanceDynamic(logger Logger, instanceID string, provider ReplicaStatusProvider) Logger {
	return logger.Hook(&replicaHook{provider: provider, instanceID: instanceID})
}
