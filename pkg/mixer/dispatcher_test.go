package mixer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T, handlers map[string]ModuleHandler) *Dispatcher {
	t.Helper()

	b := NewRegistryBuilder()
	for name, h := range handlers {
		b.Register(name, h)
	}

	registry, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	d, err := NewDispatcher(zaptest.NewLogger(t).Sugar(), registry, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	return d
}

// countingHandler records how often it ran
type countingHandler struct {
	calls int
}

func (h *countingHandler) Handle(json.RawMessage) Outcome {
	h.calls++
	return OK("handled", -1)
}

func decodeError(t *testing.T, raw []byte) ErrorResponse {
	t.Helper()

	var e ErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("decode error envelope %s: %v", raw, err)
	}
	return e
}

func TestDispatcherRejectsInvalidJSON(t *testing.T) {
	handler := &countingHandler{}
	d := newTestDispatcher(t, map[string]ModuleHandler{"audio": handler})

	e := decodeError(t, d.Handle([]byte(`{"module": "audio", `)))

	if e.Code != CodeBadRequest || e.Message != errorMessageInvalidRequest {
		t.Errorf("got %d %q, want %d %q", e.Code, e.Message, CodeBadRequest, errorMessageInvalidRequest)
	}
	if handler.calls != 0 {
		t.Errorf("handler ran %d times, want 0", handler.calls)
	}
}

func TestDispatcherRejectsMissingPayload(t *testing.T) {
	handler := &countingHandler{}
	d := newTestDispatcher(t, map[string]ModuleHandler{"audio": handler})

	for _, raw := range []string{
		`{"module": "audio"}`,
		`{"module": "audio", "payload": null}`,
		`{"module": "nonexistent"}`,
	} {
		e := decodeError(t, d.Handle([]byte(raw)))

		if e.Code != CodeBadRequest {
			t.Errorf("%s: code = %d, want %d", raw, e.Code, CodeBadRequest)
		}
		if !strings.Contains(e.Message, "Payload is missing") {
			t.Errorf("%s: message = %q, want it to mention the missing payload", raw, e.Message)
		}
	}

	if handler.calls != 0 {
		t.Errorf("handler ran %d times, want 0", handler.calls)
	}
}

func TestDispatcherUnknownModule(t *testing.T) {
	d := newTestDispatcher(t, map[string]ModuleHandler{"audio": &countingHandler{}})

	for _, payload := range []string{`{}`, `{"action": "get_volume"}`, `"garbage"`, `[1, 2, 3]`, `42`} {
		raw := `{"module": "nonexistent", "payload": ` + payload + `}`

		e := decodeError(t, d.Handle([]byte(raw)))

		if e.Code != CodeNotFound || e.Message != errorMessageResourceNotFound {
			t.Errorf("%s: got %d %q, want %d %q", raw, e.Code, e.Message, CodeNotFound, errorMessageResourceNotFound)
		}
	}

	got := testutil.ToFloat64(d.metrics.requests.WithLabelValues(unregisteredModuleMetricKey, "404"))
	if got != 5 {
		t.Errorf("unknown module requests metric = %v, want 5", got)
	}
}

func TestDispatcherRoutesCaseInsensitively(t *testing.T) {
	handler := &countingHandler{}
	d := newTestDispatcher(t, map[string]ModuleHandler{"audio": handler})

	outcome := d.HandleRequest([]byte(`{"module": "AUDIO", "payload": {}}`))

	if outcome.StatusCode() != CodeOK {
		t.Fatalf("StatusCode() = %d, want %d", outcome.StatusCode(), CodeOK)
	}
	if handler.calls != 1 {
		t.Errorf("handler ran %d times, want 1", handler.calls)
	}

	got := testutil.ToFloat64(d.metrics.requests.WithLabelValues("audio", "200"))
	if got != 1 {
		t.Errorf("audio requests metric = %v, want 1", got)
	}
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	panicky := ModuleHandlerFunc(func(json.RawMessage) Outcome {
		panic("handler exploded")
	})
	silent := ModuleHandlerFunc(func(json.RawMessage) Outcome {
		return nil
	})

	d := newTestDispatcher(t, map[string]ModuleHandler{"panicky": panicky, "silent": silent})

	for _, module := range []string{"panicky", "silent"} {
		outcome := d.Dispatch(module, json.RawMessage(`{}`))

		e, ok := outcome.(*ErrorResponse)
		if !ok {
			t.Fatalf("%s: outcome = %T, want *ErrorResponse", module, outcome)
		}

		want := "Failed to handle request for module '" + module + "'"
		if e.Code != CodeInternalError || e.Message != want {
			t.Errorf("%s: got %d %q, want %d %q", module, e.Code, e.Message, CodeInternalError, want)
		}
	}
}

func TestDispatcherMetricsRegistration(t *testing.T) {
	registry, err := NewRegistryBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	logger := zaptest.NewLogger(t).Sugar()

	if _, err := NewDispatcher(logger, registry, reg); err != nil {
		t.Fatalf("first NewDispatcher() error = %v", err)
	}

	if _, err := NewDispatcher(logger, registry, reg); err == nil {
		t.Error("second NewDispatcher() on the same registerer succeeded, want a duplicate registration error")
	}

	if _, err := NewDispatcher(logger, registry, nil); err != nil {
		t.Errorf("NewDispatcher() without registerer error = %v", err)
	}
}
