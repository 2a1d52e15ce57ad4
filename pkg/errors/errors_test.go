package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name        string
		category    ErrorCategory
		code        ErrorCode
		message     string
		cause       error
		expectCode  int
		expectError string
	}{
		{
			name:        "input error",
			category:    CategoryInput,
			code:        CodeMalformedMessage,
			message:     "malformed message",
			cause:       nil,
			expectCode:  2,
			expectError: "malformed message",
		},
		{
			name:        "storage error with cause",
			category:    CategoryStorage,
			code:        CodeQueryFailed,
			message:     "query failed",
			cause:       errors.New("database is locked"),
			expectCode:  5,
			expectError: "query failed: database is locked",
		},
		{
			name:        "configuration error",
			category:    CategoryConfiguration,
			code:        CodeInvalidConfig,
			message:     "invalid config",
			cause:       errors.New("missing field"),
			expectCode:  4,
			expectError: "invalid config: missing field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.expectError {
				t.Errorf("expected error string %q, got %q", tt.expectError, err.Error())
			}
			if tt.cause != nil && err.Unwrap() != tt.cause {
				t.Errorf("expected to unwrap to %v, got %v", tt.cause, err.Unwrap())
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected stack trace to be captured")
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryInput, CodeMalformedMessage, "test error").
		WithContext("unique_id", "abc").
		WithContext("attempt", 2).
		WithSuggestion("resend the message")

	if err.Context["unique_id"] != "abc" {
		t.Errorf("expected unique_id context 'abc', got %v", err.Context["unique_id"])
	}
	if err.Context["attempt"] != 2 {
		t.Errorf("expected attempt context 2, got %v", err.Context["attempt"])
	}

	expected := "test error (suggestion: resend the message)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("InputError", func(t *testing.T) {
		err := InputError(CodeMalformedMessage, "body", nil)
		if err.Category != CategoryInput {
			t.Errorf("expected input category, got %s", err.Category)
		}
		if err.Context["field"] != "body" {
			t.Errorf("expected field context, got %v", err.Context["field"])
		}
		if err.Suggestion == "" {
			t.Error("expected suggestion to be set")
		}
	})

	t.Run("MatchingError", func(t *testing.T) {
		err := MatchingError(CodeConflict, "req-1", nil)
		if err.Category != CategoryMatching {
			t.Errorf("expected matching category, got %s", err.Category)
		}
		if !strings.Contains(err.Message, "req-1") {
			t.Errorf("expected message to name the request, got %s", err.Message)
		}
	})

	t.Run("StorageError", func(t *testing.T) {
		cause := errors.New("disk I/O error")
		err := StorageError(CodeQueryFailed, "insert attempt", cause)
		if err.Cause != cause {
			t.Errorf("expected cause to be %v, got %v", cause, err.Cause)
		}
		if err.Context["operation"] != "insert attempt" {
			t.Errorf("expected operation context, got %v", err.Context["operation"])
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeIllegalTransition, "status", "matched→pending", nil)
		if err.Category != CategoryValidation {
			t.Errorf("expected validation category, got %s", err.Category)
		}
		if err.Context["value"] != "matched→pending" {
			t.Errorf("expected value context, got %v", err.Context["value"])
		}
	})
}

func TestHasCodeAndIs(t *testing.T) {
	base := StorageError(CodeNotFound, "get message", nil)
	wrapped := Wrap(base, CategoryInternal, CodeUnexpectedError, "retry failed")

	if !HasCode(base, CodeNotFound) {
		t.Error("expected HasCode to match the direct error")
	}
	if !errors.Is(wrapped, New(CategoryStorage, CodeNotFound, "")) {
		t.Error("expected errors.Is to find the wrapped not-found error")
	}
	if HasCode(errors.New("plain"), CodeNotFound) {
		t.Error("expected HasCode to be false for plain errors")
	}
}

func TestErrorSummary(t *testing.T) {
	errs := []*ReconcilerError{
		New(CategoryInput, CodeMalformedMessage, "error 1"),
		New(CategoryInput, CodeUnreadableFile, "error 2"),
		New(CategoryStorage, CodeQueryFailed, "error 3"),
		New(CategoryValidation, CodeInvalidAmount, "error 4"),
	}

	summary := NewErrorSummary(errs)

	if summary.Total != 4 {
		t.Errorf("expected total 4, got %d", summary.Total)
	}
	if summary.ByCategory[CategoryInput] != 2 {
		t.Errorf("expected 2 input errors, got %d", summary.ByCategory[CategoryInput])
	}
	if !summary.HasCode(CodeQueryFailed) {
		t.Error("expected summary to contain query_failed")
	}
	if summary.GetExitCode() != 5 {
		t.Errorf("expected storage exit code 5 to dominate, got %d", summary.GetExitCode())
	}
	if !strings.HasPrefix(summary.Error(), "4 errors occurred") {
		t.Errorf("unexpected summary string %q", summary.Error())
	}
}

func TestEmptyErrorSummary(t *testing.T) {
	summary := NewErrorSummary(nil)

	if summary.Error() != "no errors" {
		t.Errorf("expected 'no errors', got '%s'", summary.Error())
	}
	if summary.GetExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", summary.GetExitCode())
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		category     ErrorCategory
		expectedCode int
	}{
		{CategoryInput, 2},
		{CategoryValidation, 3},
		{CategoryExtraction, 3},
		{CategoryMatching, 3},
		{CategoryConfiguration, 4},
		{CategoryStorage, 5},
		{CategoryInternal, 6},
		{ErrorCategory("unknown"), 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := New(tt.category, "test_code", "test message")
			if err.GetExitCode() != tt.expectedCode {
				t.Errorf("expected exit code %d for category %s, got %d",
					tt.expectedCode, tt.category, err.GetExitCode())
			}
		})
	}
}

func TestTemplateErrors(t *testing.T) {
	collector := NewTemplateErrorCollector()
	collector.Add(MissingAliasesError(&TemplateContext{File: "/etc/paymatch/banks.yaml", Template: "gtbank", Index: 0}))
	collector.Add(InvalidPatternError(&TemplateContext{Template: "zenith", Index: 1, Field: "amount_patterns", Value: "("}, errors.New("missing closing )")))
	collector.Add(nil)

	if !collector.HasErrors() || len(collector.GetErrors()) != 2 {
		t.Fatalf("expected 2 collected errors, got %d", len(collector.GetErrors()))
	}

	first := collector.GetErrors()[0]
	if !strings.Contains(first.Error(), "banks.yaml template #0 (gtbank) field 'aliases'") {
		t.Errorf("unexpected location in %q", first.Error())
	}

	detailed := collector.GetErrors()[1].GetDetailedError()
	for _, want := range []string{"Field: amount_patterns", "Value: '('", "Examples:"} {
		if !strings.Contains(detailed, want) {
			t.Errorf("expected detailed error to contain %q, got:\n%s", want, detailed)
		}
	}

	summary := collector.GetSummary()
	if summary.ByCode[CodeInvalidTemplate] != 2 {
		t.Errorf("expected 2 invalid_template errors, got %d", summary.ByCode[CodeInvalidTemplate])
	}

	formatted := FormatTemplateErrorsForUser(collector.GetErrors())
	if !strings.HasPrefix(formatted, "Found 2 template errors:") {
		t.Errorf("unexpected formatted output %q", formatted)
	}
}

func TestTemplateErrorCollectorErr(t *testing.T) {
	collector := NewTemplateErrorCollector()
	if err := collector.Err(); err != nil {
		t.Errorf("expected no error from an empty collector, got %v", err)
	}

	collector.Add(EmptyRulesError(&TemplateContext{File: "banks.yaml", Template: "opay", Index: 3}))
	err := collector.Err()
	if !HasCode(err, CodeInvalidTemplate) {
		t.Fatalf("expected invalid_template, got %v", err)
	}
	re, _ := AsReconcilerError(err)
	if re.Category != CategoryExtraction || re.GetExitCode() != 3 {
		t.Errorf("expected an extraction error, got %s", re.Category)
	}
	if !strings.Contains(re.Details, "Field: rules") {
		t.Errorf("expected details to name the field, got %q", re.Details)
	}

	if !HasCode(collector.GetErrors()[0], CodeInvalidTemplate) {
		t.Error("expected a single template error to expose its code")
	}
}
