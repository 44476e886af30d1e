package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// queryLogger routes GORM output to zerolog. Failed statements log at error
// (record-not-found excepted), slow ones at warn, the rest at trace.
type queryLogger struct {
	log   zerolog.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

// NewQueryLogger adapts l for gorm.Config.Logger. A nil l discards everything.
func NewQueryLogger(l *zerolog.Logger, slow time.Duration) gormlogger.Interface {
	if l == nil {
		return gormlogger.Discard
	}
	return &queryLogger{log: l.With().Str("component", "db").Logger(), slow: slow, level: gormlogger.Warn}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *q
	cp.level = level
	return &cp
}

func (q *queryLogger) Info(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.log.Info().Msg(fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.log.Warn().Msg(fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.log.Error().Msg(fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && q.level >= gormlogger.Error:
		sql, rows := fc()
		q.log.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case q.slow > 0 && elapsed > q.slow && q.level >= gormlogger.Warn:
		sql, rows := fc()
		q.log.Warn().Dur("elapsed", elapsed).Dur("threshold", q.slow).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case q.level >= gormlogger.Info:
		sql, rows := fc()
		q.log.Trace().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
