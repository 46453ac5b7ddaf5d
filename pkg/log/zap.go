// Package log builds the zap logger used for diagnostics.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a pflag.Value accepting DEBUG, INFO, WARNING or ERROR.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// AvailableLevels lists the accepted --log-level values.
var AvailableLevels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError}

func (l *Level) Type() string {
	return "string"
}

func (l *Level) String() string {
	return string(*l)
}

func (l *Level) Set(s string) error {
	switch strings.ToUpper(s) {
	case "DEBUG":
		*l = LevelDebug
	case "INFO":
		*l = LevelInfo
	case "WARNING", "WARN":
		*l = LevelWarning
	case "ERROR":
		*l = LevelError
	default:
		return fmt.Errorf("invalid log level %q; available: %v", s, AvailableLevels)
	}

	return nil
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zap.DebugLevel
	case LevelWarning:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	case LevelInfo:
		return zap.InfoLevel
	default:
		return zap.InfoLevel
	}
}

// Options exports an options struct to be used by the command-line as flag.
type Options struct {
	Level Level
}

func NewDefaultOptions() Options {
	return Options{Level: LevelInfo}
}

func (o *Options) AddPFlags(fs *pflag.FlagSet) {
	fs.Var(&o.Level, "log-level", "Log level, one of DEBUG, INFO, WARNING or ERROR")
}

// New returns a console logger writing to stderr.
func New(level Level) *zap.Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter returns a console logger writing to w.
func NewWithWriter(level Level, w io.Writer) *zap.Logger {
	sink := zapcore.AddSync(w)

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, zap.NewAtomicLevelAt(level.zapLevel()))

	return zap.New(core, zap.ErrorOutput(sink))
}
