package logging

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/uptrace/bun"
)

// QueryHook logs every statement bun executes at debug level. Failed
// statements are logged at error level; sql.ErrNoRows is not a failure.
type QueryHook struct {
	logger log.Logger
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns a hook logging to logger.
func NewQueryHook(logger log.Logger) *QueryHook {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &QueryHook{logger: log.With(logger, "component", "sql")}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	keyvals := []any{
		"op", event.Operation(),
		"query", event.Query,
		"duration", time.Since(event.StartTime),
	}

	if event.Err != nil && !stdErrors.Is(event.Err, sql.ErrNoRows) {
		level.Error(h.logger).Log(append(keyvals, "err", event.Err)...)
		return
	}
	level.Debug(h.logger).Log(keyvals...)
}
