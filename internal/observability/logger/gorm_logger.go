package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures GormLogger.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LockWaitThreshold is the slow threshold for SELECT ... FOR UPDATE,
	// which refunds and outbox claims hold while other writers queue.
	LockWaitThreshold time.Duration
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:             gormlogger.Warn,
		SlowThreshold:     200 * time.Millisecond,
		LockWaitThreshold: 50 * time.Millisecond,
	}
}

// GormLogger writes GORM statements through zap. Bound parameters are never
// logged: they hold provider references and customer emails. Missing rows
// are not errors here, since lookups by provider reference miss routinely.
type GormLogger struct {
	log  *zap.Logger
	conf GormLoggerConfig
}

func NewGormLogger(base *zap.Logger, cfg GormLoggerConfig) *GormLogger {
	if base == nil {
		base = zap.L()
	}
	return &GormLogger{log: base.Named("gorm"), conf: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.conf.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, gormlogger.Info, msg, args)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, gormlogger.Warn, msg, args)
}

func (l *GormLogger) Error(ctx context.Context, msg string, args ...any) {
	l.printf(ctx, gormlogger.Error, msg, args)
}

func (l *GormLogger) printf(ctx context.Context, min gormlogger.LogLevel, msg string, args []any) {
	if l.conf.Level < min {
		return
	}
	level := map[gormlogger.LogLevel]zapcore.Level{
		gormlogger.Info:  zapcore.InfoLevel,
		gormlogger.Warn:  zapcore.WarnLevel,
		gormlogger.Error: zapcore.ErrorLevel,
	}[min]
	if ce := WithContext(ctx, l.log).Check(level, msg); ce != nil {
		ce.Write(zap.Int("args", len(args)))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.conf.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound)
	if !failed && l.conf.Level < gormlogger.Info && !l.slow(elapsed, l.conf.LockWaitThreshold) {
		return
	}
	sql, rows := fc()
	stmt := describeSQL(sql)

	threshold := l.conf.SlowThreshold
	if stmt.locking && l.conf.LockWaitThreshold > 0 {
		threshold = l.conf.LockWaitThreshold
	}

	var level zapcore.Level
	switch {
	case failed:
		if l.conf.Level < gormlogger.Error {
			return
		}
		level = zapcore.ErrorLevel
	case threshold > 0 && elapsed > threshold:
		if l.conf.Level < gormlogger.Warn {
			return
		}
		level = zapcore.WarnLevel
	case l.conf.Level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	fields := []zap.Field{
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if stmt.locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := WithContext(ctx, l.log).Check(level, "gorm.query"); ce != nil {
		ce.Write(fields...)
	}
}

// slow reports whether elapsed exceeds the smaller configured threshold.
func (l *GormLogger) slow(elapsed, lockWait time.Duration) bool {
	threshold := l.conf.SlowThreshold
	if lockWait > 0 && (threshold <= 0 || lockWait < threshold) {
		threshold = lockWait
	}
	return threshold > 0 && elapsed > threshold
}

// ParamsFilter drops bound values from the statement GORM renders for Trace.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}

type sqlShape struct {
	operation string
	table     string
	locking   bool
}

// describeSQL reads the verb, the first table and whether rows are locked.
func describeSQL(sql string) sqlShape {
	shape := sqlShape{operation: "UNKNOWN"}
	tokens := strings.Fields(strings.ToUpper(sql))
	for i, tok := range tokens {
		tok = strings.Trim(tok, "();")
		switch {
		case shape.operation == "UNKNOWN" && (tok == "SELECT" || tok == "INSERT" || tok == "UPDATE" || tok == "DELETE"):
			shape.operation = tok
			if tok == "UPDATE" && i+1 < len(tokens) {
				shape.table = tableName(tokens[i+1])
			}
		case shape.table == "" && (tok == "FROM" || tok == "INTO") && i+1 < len(tokens):
			shape.table = tableName(tokens[i+1])
		case tok == "FOR" && i+1 < len(tokens) && tokens[i+1] == "UPDATE":
			shape.locking = true
		}
	}
	return shape
}

func tableName(tok string) string {
	return strings.ToLower(strings.Trim(tok, "\"`();"))
}

var _ gormlogger.Interface = (*GormLogger)(nil)
