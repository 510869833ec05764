package validation

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/vnykmshr/gatekeep/pkg/common/errors"
)

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 10, false},
		{"positive value 1", 1, false},
		{"zero value", 0, true},
		{"negative value", -1, true},
		{"large positive", 1000000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositive("test", "count", tt.value)

			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateDurations(t *testing.T) {
	tests := []struct {
		name        string
		value       time.Duration
		positiveErr bool
		nonNegErr   bool
	}{
		{"one minute", time.Minute, false, false},
		{"one nanosecond", time.Nanosecond, false, false},
		{"zero", 0, true, false},
		{"negative", -time.Second, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositiveDuration("test", "window", tt.value)
			if (err != nil) != tt.positiveErr {
				t.Errorf("ValidatePositiveDuration(%v) err = %v, want error %v", tt.value, err, tt.positiveErr)
			}
			err = ValidateNonNegativeDuration("test", "block", tt.value)
			if (err != nil) != tt.nonNegErr {
				t.Errorf("ValidateNonNegativeDuration(%v) err = %v, want error %v", tt.value, err, tt.nonNegErr)
			}
		})
	}
}

func TestValidateFraction(t *testing.T) {
	tests := []struct {
		value     float64
		wantError bool
	}{
		{0.3, false},
		{1, false},
		{0.0001, false},
		{0, true},
		{-0.1, true},
		{1.5, true},
	}

	for _, tt := range tests {
		err := ValidateFraction("test", "evict_fraction", tt.value)
		if (err != nil) != tt.wantError {
			t.Errorf("ValidateFraction(%v) err = %v, want error %v", tt.value, err, tt.wantError)
		}
	}
}

func TestValidateNotNil(t *testing.T) {
	if err := ValidateNotNil("test", "store", nil); err == nil {
		t.Error("expected error for nil value")
	}
	if err := ValidateNotNil("test", "store", struct{}{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateNotEmpty(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{"non-empty", "fallback", false},
		{"whitespace", " ", false},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNotEmpty("reclaim", "name", tt.value)
			if (err != nil) != tt.wantError {
				t.Errorf("err = %v, want error %v", err, tt.wantError)
			}
		})
	}
}

func TestValidationErrorDetails(t *testing.T) {
	t.Run("ValidatePositive error details", func(t *testing.T) {
		err := ValidatePositive("ratelimit", "max_requests", -5)

		var valErr *errors.ValidationError
		if !stderrors.As(err, &valErr) {
			t.Fatalf("expected ValidationError, got %T", err)
		}

		if valErr.Module != "ratelimit" {
			t.Errorf("Module = %q, want %q", valErr.Module, "ratelimit")
		}
		if valErr.Field != "max_requests" {
			t.Errorf("Field = %q, want %q", valErr.Field, "max_requests")
		}
		if valErr.Value != -5 {
			t.Errorf("Value = %v, want %v", valErr.Value, -5)
		}
		if valErr.Reason != "must be positive" {
			t.Errorf("Reason = %q, want %q", valErr.Reason, "must be positive")
		}
		if valErr.Hint != "value must be greater than 0" {
			t.Errorf("Hint = %q, want %q", valErr.Hint, "value must be greater than 0")
		}
	})

	t.Run("ValidateNotEmpty error details", func(t *testing.T) {
		err := ValidateNotEmpty("config", "key", "")

		var valErr *errors.ValidationError
		if !stderrors.As(err, &valErr) {
			t.Fatalf("expected ValidationError, got %T", err)
		}
		if valErr.Reason != "cannot be empty" {
			t.Errorf("Reason = %q, want %q", valErr.Reason, "cannot be empty")
		}
		if valErr.Hint != "provide a non-empty key" {
			t.Errorf("Hint = %q, want contains 'key'", valErr.Hint)
		}
	})
}

func TestValidationErrorWrapping(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"ValidatePositive", ValidatePositive("test", "field", -1)},
		{"ValidatePositiveDuration", ValidatePositiveDuration("test", "field", 0)},
		{"ValidateNonNegativeDuration", ValidateNonNegativeDuration("test", "field", -1)},
		{"ValidateFraction", ValidateFraction("test", "field", 2)},
		{"ValidateNotNil", ValidateNotNil("test", "field", nil)},
		{"ValidateNotEmpty", ValidateNotEmpty("test", "field", "")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err == nil {
				t.Fatal("expected error")
			}
			if !stderrors.Is(tc.err, errors.ErrInvalidConfiguration) {
				t.Errorf("error should wrap ErrInvalidConfiguration: %v", tc.err)
			}
		})
	}
}
