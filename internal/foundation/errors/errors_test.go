package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryDocument, "base config is not a mapping").
			WithSeverity(SeverityFatal).
			WithContext("path", "clash.yaml").
			Build()

		if err.Category() != CategoryDocument {
			t.Errorf("expected category %s, got %s", CategoryDocument, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		if err.Message() != "base config is not a mapping" {
			t.Errorf("unexpected message %q", err.Message())
		}
		path, exists := err.Context().GetString("path")
		if !exists || path != "clash.yaml" {
			t.Errorf("expected context path=clash.yaml, got %v", path)
		}
	})

	t.Run("Error string is stable", func(t *testing.T) {
		err := ChainError("invalid merge source").
			WithContext("unit", "Merge").
			WithContext("file", "m.yaml").
			Build()
		want := "[chain:warning] invalid merge source (file=m.yaml, unit=Merge)"
		if err.Error() != want {
			t.Errorf("got %q, want %q", err.Error(), want)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := DocumentError("bad yaml").Build()
		wrapped := fmt.Errorf("generate: %w", inner)

		if !IsClassified(wrapped) {
			t.Fatal("expected wrapped error to be classified")
		}
		if !HasCategory(wrapped, CategoryDocument) {
			t.Error("expected document category")
		}
		if GetSeverity(wrapped) != SeverityFatal {
			t.Error("expected fatal severity")
		}
		if GetCategory(errors.New("plain")) != CategoryInternal {
			t.Error("expected plain errors to default to internal")
		}
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := NotFoundError("profile not found").Build()
		derived := base.WithContext("uid", "abc")
		if _, ok := base.Context().Get("uid"); ok {
			t.Error("WithContext must not mutate the receiver")
		}
		if uid, _ := derived.Context().GetString("uid"); uid != "abc" {
			t.Errorf("expected uid=abc, got %q", uid)
		}
		if !errors.Is(derived, base) {
			t.Error("expected derived error to match base by category and message")
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("connection refused")
		err := WrapError(originalErr, CategoryNotify, "publish failed").
			Warning().
			Retryable().
			WithContext("subject", "clashchain.runs").
			Build()

		if err.Severity() != SeverityWarning {
			t.Errorf("expected severity %s, got %s", SeverityWarning, err.Severity())
		}
		if err.RetryStrategy() != RetryBackoff {
			t.Errorf("expected retry strategy %s, got %s", RetryBackoff, err.RetryStrategy())
		}
		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if !err.CanRetry() {
			t.Error("expected backoff errors to be retryable")
		}
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		tests := []struct {
			name     string
			builder  *ErrorBuilder
			category ErrorCategory
			severity ErrorSeverity
			retry    RetryStrategy
		}{
			{"ConfigError", ConfigError("test"), CategoryConfig, SeverityFatal, RetryUserAction},
			{"ValidationError", ValidationError("test"), CategoryValidation, SeverityFatal, RetryUserAction},
			{"NotFoundError", NotFoundError("test"), CategoryNotFound, SeverityError, RetryNever},
			{"AlreadyExistsError", AlreadyExistsError("test"), CategoryAlreadyExists, SeverityError, RetryUserAction},
			{"DocumentError", DocumentError("test"), CategoryDocument, SeverityFatal, RetryUserAction},
			{"ChainError", ChainError("test"), CategoryChain, SeverityWarning, RetryUserAction},
			{"ScriptError", ScriptError("test"), CategoryScript, SeverityError, RetryNever},
			{"FileSystemError", FileSystemError("test"), CategoryFileSystem, SeverityError, RetryBackoff},
			{"HistoryError", HistoryError("test"), CategoryHistory, SeverityWarning, RetryNever},
			{"NotifyError", NotifyError("test"), CategoryNotify, SeverityWarning, RetryBackoff},
			{"RuntimeError", RuntimeError("test"), CategoryRuntime, SeverityFatal, RetryNever},
			{"DaemonError", DaemonError("test"), CategoryDaemon, SeverityFatal, RetryNever},
			{"InternalError", InternalError("test"), CategoryInternal, SeverityFatal, RetryNever},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.builder.Build()
				if err.Category() != tt.category {
					t.Errorf("expected category %s, got %s", tt.category, err.Category())
				}
				if err.Severity() != tt.severity {
					t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
				}
				if err.RetryStrategy() != tt.retry {
					t.Errorf("expected retry strategy %s, got %s", tt.retry, err.RetryStrategy())
				}
			})
		}
	})
}

func TestErrorContext(t *testing.T) {
	ctx1 := make(ErrorContext)
	ctx1 = ctx1.Set("key1", "value1")
	ctx1 = ctx1.Set("shared", "original")

	ctx2 := make(ErrorContext)
	ctx2 = ctx2.Set("shared", "overridden")

	merged := ctx1.Merge(ctx2)

	if v, _ := merged.GetString("key1"); v != "value1" {
		t.Errorf("expected key1=value1, got %s", v)
	}
	if v, _ := merged.GetString("shared"); v != "overridden" {
		t.Errorf("expected shared=overridden, got %s", v)
	}
	if _, ok := merged.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}
}
