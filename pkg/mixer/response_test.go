package mixer

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func withFixedNow(t *testing.T, at time.Time) {
	t.Helper()

	previous := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = previous })
}

func TestOKEncoding(t *testing.T) {
	withFixedNow(t, time.Unix(1700000000, 0))
	logger := zaptest.NewLogger(t).Sugar()

	tests := []struct {
		name string
		in   *Response
		want string
	}{
		{"without count", OK(42.5, -1), `{"data":42.5,"headers":{"timestamp":1700000000}}`},
		{"with count", OK([]Device{}, 0), `{"data":[],"headers":{"timestamp":1700000000,"count":0}}`},
		{"message", OK(groupVolumeSetMessage, -1), `{"data":"Group volume set successfully","headers":{"timestamp":1700000000}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(EncodeOutcome(logger, tt.in)); got != tt.want {
				t.Errorf("EncodeOutcome() = %s, want %s", got, tt.want)
			}
			if tt.in.StatusCode() != CodeOK {
				t.Errorf("StatusCode() = %d, want %d", tt.in.StatusCode(), CodeOK)
			}
		})
	}
}

func TestFailEncoding(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	got := string(EncodeOutcome(logger, Fail(CodeBadRequest, "nope", "")))
	if want := `{"code":400,"message":"nope"}`; got != want {
		t.Errorf("EncodeOutcome() = %s, want %s", got, want)
	}

	got = string(EncodeOutcome(logger, Fail(CodeInternalError, "Failed to get volume", "device gone")))
	if want := `{"code":500,"message":"Failed to get volume","details":"device gone"}`; got != want {
		t.Errorf("EncodeOutcome() = %s, want %s", got, want)
	}

	nf := NotFound()
	if nf.StatusCode() != CodeNotFound || nf.Message != errorMessageResourceNotFound {
		t.Errorf("NotFound() = %+v", nf)
	}
}

func TestEncodeOutcomeUnserializable(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	var e ErrorResponse
	if err := json.Unmarshal(EncodeOutcome(logger, OK(math.Inf(1), -1)), &e); err != nil {
		t.Fatalf("fallback envelope is not JSON: %v", err)
	}

	if e.Code != CodeInternalError || e.Message != errorMessageSerializeResponse {
		t.Errorf("fallback = %+v, want 500 %q", e, errorMessageSerializeResponse)
	}
}
