package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see the cause through Unwrap")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad"), ErrCodeInvalidInput, 400},
		{"not found", NewNotFoundError("peer"), ErrCodeNotFound, 404},
		{"conflict", NewConflictError("taken"), ErrCodeConflict, 409},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, 429},
		{"internal", NewInternalError("oops"), ErrCodeInternal, 500},
		{"unavailable", NewServiceUnavailableError("down"), ErrCodeServiceUnavailable, 503},
		{"startup", NewStartupError(errors.New("bind"), "listen failed"), ErrCodeStartupFailed, 503},
		{"handshake", NewHandshakeError(errors.New("tls"), "tls failed"), ErrCodeHandshakeFailed, 502},
		{"decryption", NewDecryptionError(errors.New("auth"), "bad tag"), ErrCodeDecryption, 400},
		{"malformed", NewMalformedFrameError(errors.New("ts"), "bad frame"), ErrCodeMalformedFrame, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %v, want %v", tt.err.HTTPStatus, tt.status)
			}
		})
	}

	if got := NewNotFoundError("peer").Message; got != "peer not found" {
		t.Errorf("Message = %q", got)
	}
}

func TestGetAppError_UnwrapsChain(t *testing.T) {
	appErr := NewStartupError(errors.New("address in use"), "listen failed")
	wrapped := fmt.Errorf("server: %w", appErr)

	if !IsAppError(wrapped) {
		t.Fatal("IsAppError should find wrapped AppError")
	}
	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if !HasCode(wrapped, ErrCodeStartupFailed) {
		t.Error("HasCode should match STARTUP_FAILED")
	}
	if HasCode(errors.New("plain"), ErrCodeStartupFailed) {
		t.Error("HasCode should not match a plain error")
	}
	if GetAppError(nil) != nil {
		t.Error("GetAppError(nil) should be nil")
	}
}
