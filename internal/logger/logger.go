package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32
	logger       atomic.Pointer[zap.SugaredLogger]
	output       atomic.Pointer[os.File]
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	logger.Store(newSugared(zapcore.AddSync(os.Stdout), "text"))
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	if l, err := ParseLevel(level); err == nil {
		currentLevel.Store(int32(l))
	}
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// Configure sets level, encoding and destination of the package logger.
//
// Parameters:
//   - level: DEBUG, INFO, WARN or ERROR (case-insensitive)
//   - format: "text" (console encoder) or "json"
//   - dest: "stdout", "stderr" or a file path opened in append mode
func Configure(level, format, dest string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var ws zapcore.WriteSyncer
	var file *os.File

	switch dest {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		file, err = os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log output %s: %w", dest, err)
		}
		ws = zapcore.AddSync(file)
	}

	switch format {
	case "", "text", "json":
	default:
		if file != nil {
			_ = file.Close()
		}
		return fmt.Errorf("unknown log format %q", format)
	}

	previous := logger.Swap(newSugared(ws, format))
	_ = previous.Sync()
	if old := output.Swap(file); old != nil {
		_ = old.Close()
	}
	currentLevel.Store(int32(l))

	return nil
}

// Sync flushes buffered entries.
func Sync() error {
	return logger.Load().Sync()
}

func newSugared(ws zapcore.WriteSyncer, format string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"

	var encoder zapcore.Encoder
	if format == "json" {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		encCfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + l.CapitalString() + "]")
		}
		encCfg.ConsoleSeparator = " "
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	// Filtering happens in log(); the core accepts everything.
	core := zapcore.NewCore(encoder, ws, zapcore.DebugLevel)
	return zap.New(core).Sugar()
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}

	l := logger.Load()
	switch level {
	case LevelDebug:
		l.Debugf(format, v...)
	case LevelInfo:
		l.Infof(format, v...)
	case LevelWarn:
		l.Warnf(format, v...)
	default:
		l.Errorf(format, v...)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
