package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/pkg/errors"
)

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error as a JSON body.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := toAppError(c.Errors.Last().Err)

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", appErr.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// toAppError maps chat sentinels to API errors; anything unknown is
// internal.
func toAppError(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case stderrors.Is(err, domain.ErrPeerNotFound):
		return errors.WrapError(err, errors.ErrCodeNotFound, "peer not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrNicknameInUse):
		return errors.WrapError(err, errors.ErrCodeConflict, "nickname already in use", http.StatusConflict)
	case stderrors.Is(err, domain.ErrInvalidNickname):
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid nickname", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrNotConnected):
		return errors.WrapError(err, errors.ErrCodeServiceUnavailable, "not connected", http.StatusServiceUnavailable)
	}
	return errors.WrapError(err, errors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				appErr := errors.NewInternalError("Internal server error")
				c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
					"error":   string(appErr.Code),
					"message": appErr.Message,
				})
			}
		}()

		c.Next()
	}
}
