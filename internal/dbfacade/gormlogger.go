package dbfacade

import (
	"context"
	"time"

	"github.com/wudi/gateway/internal/logging"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger adapts the gateway's zap logger to gorm's logger.Interface,
// the same role the teacher's logger/zap package fills for its database
// layer.
type GormLogger struct {
	level gormlogger.LogLevel
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger creates a logger at the given gorm log level (typically
// gormlogger.Warn in production, gormlogger.Info when cfg.Logging.Level
// is "debug").
func NewGormLogger(level gormlogger.LogLevel) *GormLogger {
	return &GormLogger{level: level}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{level: level}
}

func (g *GormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		logging.Info(msg, zap.Any("args", args))
	}
}

func (g *GormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		logging.Warn(msg, zap.Any("args", args))
	}
}

func (g *GormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		logging.Error(msg, zap.Any("args", args))
	}
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	sql, rows := fc()
	elapsed := time.Since(begin)
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err != nil && g.level >= gormlogger.Error:
		logging.Error("sql error", append(fields, zap.Error(err))...)
	case elapsed > 200*time.Millisecond && g.level >= gormlogger.Warn:
		logging.Warn("slow sql", fields...)
	case g.level >= gormlogger.Info:
		logging.Info("sql executed", fields...)
	}
}
