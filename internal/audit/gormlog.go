package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger sends gorm's SQL logs to a ServiceLogger.
type gormLogger struct {
	log   loggingpkg.ServiceLogger
	level gormlogger.LogLevel
}

// NewGormLogger adapts log for gorm.Config.Logger.
func NewGormLogger(log loggingpkg.ServiceLogger, level gormlogger.LogLevel) gormlogger.Interface {
	if log == nil {
		log = loggingpkg.Nop()
	}
	return &gormLogger{log: log.With(loggingpkg.LogFields{"component": "gorm"}), level: level}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, data...), nil)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Info(fmt.Sprintf(msg, data...), loggingpkg.LogFields{"level": "warn"})
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, data...), nil, nil)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := loggingpkg.LogFields{"elapsed": elapsed.String(), "rows": rows, "sql": sql}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.log.Error("SQL failed", err, fields)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		l.log.Info("Slow SQL", fields)
	case l.level >= gormlogger.Info:
		l.log.Debug("SQL", fields)
	}
}
