package utils

// logger.go - структурированное логирование поверх zap.
//
// Даёт единый формат полей для всех пакетов perpctl: каждое
// пользовательское событие (OPEN/CLOSE/STREAK/ARM/RESET/WATCH/HEARTBEAT/
// WS/HTTP ERROR) проходит через один и тот же Logger.

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig describes the desired logger configuration.
type LogConfig struct {
	Level       string // debug|info|warn|error|fatal, default info
	Format      string // json|text, default json
	Development bool
	Output      string // file path; empty or "stdout"/"stderr" select a stream
}

// Logger wraps *zap.Logger and caches its sugared form.
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.Mutex
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func openOutput(path string) zapcore.WriteSyncer {
	switch path {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(f)
}

// InitLogger builds a standalone Logger from cfg. It never panics on a bad
// Output path, falling back to stderr instead.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg.Output), level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// GetGlobalLogger returns the process-wide logger, lazily creating one with
// default settings on first use.
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// InitGlobalLogger creates a logger from cfg and installs it globally.
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger installs logger as the process-wide logger.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// L is shorthand for GetGlobalLogger.
func L() *Logger {
	return GetGlobalLogger()
}

// With returns a child Logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

func (l *Logger) WithComponent(name string) *Logger { return l.With(Component(name)) }
func (l *Logger) WithExchange(name string) *Logger  { return l.With(Exchange(name)) }
func (l *Logger) WithSymbol(symbol string) *Logger  { return l.With(Symbol(symbol)) }
func (l *Logger) WithPairID(id int) *Logger         { return l.With(PairID(id)) }

// Sugar returns the cached SugaredLogger.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Global convenience functions, operating on the global logger.
// ============================================================

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetGlobalLogger().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(template, args...) }

// ============================================================
// Field constructors. Names match the CSV/log vocabulary used
// throughout the engine (symbol, side, price, pnl, ...).
// ============================================================

func Exchange(name string) zap.Field          { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field          { return zap.String("symbol", symbol) }
func PairID(id int) zap.Field                 { return zap.Int("pair_id", id) }
func OrderID(id string) zap.Field             { return zap.String("order_id", id) }
func Price(v float64) zap.Field               { return zap.Float64("price", v) }
func Volume(v float64) zap.Field              { return zap.Float64("volume", v) }
func Spread(v float64) zap.Field              { return zap.Float64("spread", v) }
func PNL(v float64) zap.Field                 { return zap.Float64("pnl", v) }
func Side(side string) zap.Field              { return zap.String("side", side) }
func State(state string) zap.Field            { return zap.String("state", state) }
func Latency(ms float64) zap.Field            { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field           { return zap.String("request_id", id) }
func UserID(id int) zap.Field                 { return zap.Int("user_id", id) }
func Component(name string) zap.Field         { return zap.String("component", name) }

// Re-exported zap field constructors so callers need only import this
// package.
func String(key, val string) zap.Field          { return zap.String(key, val) }
func Int(key string, val int) zap.Field         { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field     { return zap.Int64(key, val) }
func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func Bool(key string, val bool) zap.Field       { return zap.Bool(key, val) }
func Err(err error) zap.Field                   { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		out = append(out, f.Key, enc.Fields[f.Key])
	}
	return out
}
