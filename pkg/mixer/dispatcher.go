package mixer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	errorMessageInvalidRequest  = "Invalid request format"
	errorMessagePayloadMissing  = "Payload is missing in the request"
	errorMessageHandlerFailed   = "Failed to handle request for module '%s'"
	unregisteredModuleMetricKey = "unknown"
)

// ModuleRequest is the module-qualified envelope every transport delivers
type ModuleRequest struct {
	Module  string          `json:"module"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatcher routes module requests to their handlers. it holds no mutable state of its own
// and can serve any number of concurrent requests
type Dispatcher struct {
	logger   *zap.SugaredLogger
	registry *Registry
	metrics  *dispatchMetrics
}

// NewDispatcher creates a dispatcher over a built registry. metrics are registered on reg when it's non-nil
func NewDispatcher(logger *zap.SugaredLogger, registry *Registry, reg prometheus.Registerer) (*Dispatcher, error) {
	logger = logger.Named("dispatcher")

	metrics, err := newDispatchMetrics(reg)
	if err != nil {
		logger.Warnw("Failed to register dispatcher metrics", "error", err)
		return nil, fmt.Errorf("register dispatcher metrics: %w", err)
	}

	d := &Dispatcher{
		logger:   logger,
		registry: registry,
		metrics:  metrics,
	}

	logger.Debugw("Created dispatcher instance", "registry", registry)

	return d, nil
}

// Registry returns the registry this dispatcher routes through
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Handle is the raw text entry point used by transports
func (d *Dispatcher) Handle(raw []byte) []byte {
	return EncodeOutcome(d.logger, d.HandleRequest(raw))
}

// HandleRequest decodes the envelope and dispatches it
func (d *Dispatcher) HandleRequest(raw []byte) Outcome {
	var request ModuleRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		d.logger.Debugw("Failed to deserialize module request", "error", err)
		return Fail(CodeBadRequest, errorMessageInvalidRequest, "")
	}

	if len(request.Payload) == 0 || bytes.Equal(bytes.TrimSpace(request.Payload), []byte("null")) {
		d.logger.Debugw("Rejected module request without payload", "module", request.Module)
		return Fail(CodeBadRequest, errorMessagePayloadMissing, "")
	}

	return d.Dispatch(request.Module, request.Payload)
}

// Dispatch hands the payload to the module's handler
func (d *Dispatcher) Dispatch(module string, payload json.RawMessage) (outcome Outcome) {
	requestID := uuid.New().String()
	logger := d.logger.With("requestID", requestID, "module", module)
	started := time.Now()

	handler, ok := d.registry.Lookup(module)
	if !ok {
		logger.Debug("No handler registered for module")
		outcome = NotFound()
		d.metrics.observe(unregisteredModuleMetricKey, outcome.StatusCode(), time.Since(started))
		return outcome
	}

	metricKey := normalizeModuleName(module)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Module handler panicked", "panic", r)
			outcome = Fail(CodeInternalError, fmt.Sprintf(errorMessageHandlerFailed, module), "")
		}

		d.metrics.observe(metricKey, outcome.StatusCode(), time.Since(started))
		logger.Debugw("Handled module request", "code", outcome.StatusCode(), "elapsed", time.Since(started))
	}()

	outcome = handler.Handle(payload)
	if outcome == nil {
		logger.Errorw("Module handler returned no outcome")
		outcome = Fail(CodeInternalError, fmt.Sprintf(errorMessageHandlerFailed, module), "")
	}

	return outcome
}
