package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chathub/pkg/utils"
)

type ctxKey string

const (
	nicknameKey  ctxKey = "nickname"
	sessionIDKey ctxKey = "session_id"
	remoteKey    ctxKey = "remote_addr"
)

// WithPeer stores peer identity in the context so that ContextLogger can
// attach it to every line logged for that peer.
func WithPeer(ctx context.Context, nickname, sessionID, remote string) context.Context {
	ctx = context.WithValue(ctx, nicknameKey, nickname)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, remoteKey, remote)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds peer fields found in ctx to the logger. Session ids
// are shortened.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []ctxKey{nicknameKey, sessionIDKey, remoteKey} {
		v, ok := ctx.Value(key).(string)
		if !ok || v == "" {
			continue
		}
		if key == sessionIDKey {
			v = utils.ShortID(v)
		}
		fields = append(fields, zap.String(string(key), v))
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// LogError logs an error with context
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}

// LogInfo logs info message with context
func (cl *ContextLogger) LogInfo(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Info(message, fields...)
}

// LogDebug logs debug message with context
func (cl *ContextLogger) LogDebug(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Debug(message, fields...)
}
