package internal

import (
	"strings"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	err := NewEngineError(ErrRangeRejected, "server returned 416").WithHTTPStatus(416)

	result := err.Error()

	if !strings.Contains(result, "RangeRejected") {
		t.Error("error message should contain the error kind")
	}
	if !strings.Contains(result, "416") {
		t.Error("error message should contain the http status")
	}
	if !strings.Contains(result, "server returned 416") {
		t.Error("error message should contain the message")
	}
}

func TestEngineError_DetailedError(t *testing.T) {
	err := NewEngineError(ErrContentChanged, "etag mismatch after refresh").
		WithJobID("job-1").
		WithURL("https://cdn.example.com/video.mp4?token=secret").
		WithRetryAfter(60).
		WithContext("attempts", 3)

	result := err.DetailedError()

	if !strings.Contains(result, "CRITICAL") {
		t.Error("detailed error should contain severity")
	}
	if !strings.Contains(result, "ContentChanged") {
		t.Error("detailed error should contain the error kind")
	}
	if !strings.Contains(result, "job-1") {
		t.Error("detailed error should contain the job id")
	}
	if !strings.Contains(result, "etag mismatch after refresh") {
		t.Error("detailed error should contain the message")
	}
	if !strings.Contains(result, "retry after: 60s") {
		t.Error("detailed error should contain retry information")
	}
	if !strings.Contains(result, "attempts=3") {
		t.Error("detailed error should contain context")
	}
	if strings.Contains(result, "token=secret") {
		t.Error("the url's query string must be redacted")
	}
	if !strings.Contains(result, "[REDACTED]") {
		t.Error("detailed error should show a redaction marker for the url")
	}
}

func TestEngineError_Retryable(t *testing.T) {
	cases := []struct {
		name string
		err  *EngineError
		want bool
	}{
		{"transport retryable", NewEngineError(ErrTransportRetryable, "connect refused"), true},
		{"5xx fatal", NewTransportError(ErrTransportFatal, 503, "service unavailable"), true},
		{"429 fatal-kind but retryable status", NewTransportError(ErrTransportFatal, 429, "too many requests"), true},
		{"404 not retryable", NewTransportError(ErrTransportFatal, 404, "not found"), false},
		{"range rejected not retryable", NewRangeRejectedError("https://x/y"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Retryable(); got != c.want {
				t.Errorf("Retryable() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEngineError_Fatal(t *testing.T) {
	if !NewContentChangedError("size mismatch").Fatal() {
		t.Error("ContentChanged must be fatal")
	}
	if !NewManifestCorruptError("/tmp/x", "bad json").Fatal() {
		t.Error("ManifestCorrupt must be fatal")
	}
	if NewEngineError(ErrTransportRetryable, "timeout").Fatal() {
		t.Error("TransportRetryable must not be fatal")
	}
	if NewEngineError(ErrCancelled, "user cancelled").Fatal() {
		t.Error("Cancelled must not be fatal (it is not an error to the outside)")
	}
}

func TestRedactSensitiveURL(t *testing.T) {
	got := redactSensitiveURL("https://cdn.example.com/file?sig=abc&exp=123")
	if !strings.HasPrefix(got, "https://cdn.example.com/file?") {
		t.Errorf("redaction should keep the path, got %q", got)
	}
	if strings.Contains(got, "abc") {
		t.Error("redaction should remove the query string contents")
	}

	plain := redactSensitiveURL("https://cdn.example.com/file")
	if plain != "https://cdn.example.com/file" {
		t.Errorf("urls without a query string should be unchanged, got %q", plain)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationErrorWithValue("connections", "must be between 1 and 64", 0).
		WithSuggestion("pass --connections in [1,64]")

	result := err.Error()
	if !strings.Contains(result, "connections") {
		t.Error("validation error should name the field")
	}
	if !strings.Contains(result, "must be between 1 and 64") {
		t.Error("validation error should contain the message")
	}
	if !strings.Contains(result, "suggestion:") {
		t.Error("validation error should contain the suggestion")
	}
}
