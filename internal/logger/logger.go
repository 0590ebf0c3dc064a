// Package logger provides the process-wide structured logger for dropsminer.
//
// It wraps go.uber.org/zap behind a package-level *zap.SugaredLogger so
// every package can log without threading a logger through constructors.
// A no-op logger is installed at load time so logging calls made before
// Initialize is safe and silent (useful in tests and early CLI parsing).
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CALL is one below Info, the mining loop's "periodic but routine" log
// level (watch ticks, topic churn). zap has no level between Info and
// Debug, so CALL has the same value as zapcore.DebugLevel: enabling CALL
// also enables Debug output, and the two cannot be silenced separately.
const CALL = zapcore.InfoLevel - 1

var (
	// Logger is the global structured logger. Never nil.
	Logger *zap.SugaredLogger
	// JSONOutput records which encoding Initialize last configured.
	JSONOutput bool
)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize configures the global logger. jsonOutput selects structured
// JSON (for --dump / machine consumption) over human-readable console
// output. verbosity maps CLI -v counts to zap levels: 0=Info, 1=CALL,
// 2+=Debug. Since CALL equals DebugLevel, 1 and 2+ enable the same output.
func Initialize(jsonOutput bool, verbosity int) error {
	JSONOutput = jsonOutput

	level := levelForVerbosity(verbosity)

	var zapLogger *zap.Logger
	var err error
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		zapLogger, err = cfg.Build()
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(consoleEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

func levelForVerbosity(v int) zapcore.Level {
	switch {
	case v <= 0:
		return zapcore.InfoLevel
	case v == 1:
		return CALL
	default:
		return zapcore.DebugLevel
	}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// Cleanup flushes buffered log entries. Sync errors on stdout/stderr are
// common on Linux (EINVAL) and are deliberately ignored by callers.
func Cleanup() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}

func Info(args ...interface{})                        { Logger.Info(args...) }
func Infof(format string, args ...interface{})         { Logger.Infof(format, args...) }
func Infow(msg string, kv ...interface{})              { Logger.Infow(msg, kv...) }
func Error(args ...interface{})                        { Logger.Error(args...) }
func Errorf(format string, args ...interface{})        { Logger.Errorf(format, args...) }
func Errorw(msg string, kv ...interface{})             { Logger.Errorw(msg, kv...) }
func Warn(args ...interface{})                         { Logger.Warn(args...) }
func Warnf(format string, args ...interface{})         { Logger.Warnf(format, args...) }
func Warnw(msg string, kv ...interface{})              { Logger.Warnw(msg, kv...) }
func Debug(args ...interface{})                        { Logger.Debug(args...) }
func Debugf(format string, args ...interface{})        { Logger.Debugf(format, args...) }
func Debugw(msg string, kv ...interface{})             { Logger.Debugw(msg, kv...) }
func Call(args ...interface{})                         { Logger.Log(CALL, args...) }
func Callf(format string, args ...interface{})         { Logger.Logf(CALL, format, args...) }
func Callw(msg string, kv ...interface{})              { Logger.Logw(CALL, msg, kv...) }
