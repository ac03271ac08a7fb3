package updater

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// retryLogger routes retryablehttp messages into zap.
type retryLogger struct {
	l *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = (*retryLogger)(nil)

func newRetryLogger(l *zap.SugaredLogger) *retryLogger {
	return &retryLogger{l: l}
}

func (r *retryLogger) Error(msg string, kvs ...any) { r.l.Errorw(msg, kvs...) }
func (r *retryLogger) Info(msg string, kvs ...any)  { r.l.Infow(msg, kvs...) }
func (r *retryLogger) Debug(msg string, kvs ...any) { r.l.Debugw(msg, kvs...) }
func (r *retryLogger) Warn(msg string, kvs ...any)  { r.l.Warnw(msg, kvs...) }
