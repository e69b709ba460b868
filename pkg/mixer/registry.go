package mixer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/thoas/go-funk"
)

// ModuleHandler produces an outcome from a module's raw payload. it owns decoding that payload
type ModuleHandler interface {
	Handle(payload json.RawMessage) Outcome
}

// ModuleHandlerFunc adapts a plain function to ModuleHandler
type ModuleHandlerFunc func(payload json.RawMessage) Outcome

// Handle calls f(payload)
func (f ModuleHandlerFunc) Handle(payload json.RawMessage) Outcome {
	return f(payload)
}

var (
	errEmptyModuleName = errors.New("empty module name")
	errNilHandler      = errors.New("nil module handler")
	errDuplicateModule = errors.New("module already registered")
)

// RegistryBuilder collects module handlers during startup wiring
type RegistryBuilder struct {
	handlers map[string]ModuleHandler
	errs     []error
}

// Registry maps module names (case-insensitive) to handlers. it has no mutators and is safe to share
type Registry struct {
	handlers map[string]ModuleHandler
}

// NewRegistryBuilder creates an empty builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		handlers: make(map[string]ModuleHandler),
	}
}

// Register adds a handler under the given module name. problems are reported by Build
func (b *RegistryBuilder) Register(name string, handler ModuleHandler) *RegistryBuilder {
	key := normalizeModuleName(name)

	switch {
	case key == "":
		b.errs = append(b.errs, errEmptyModuleName)
	case handler == nil:
		b.errs = append(b.errs, fmt.Errorf("register module %q: %w", key, errNilHandler))
	default:
		if _, ok := b.handlers[key]; ok {
			b.errs = append(b.errs, fmt.Errorf("register module %q: %w", key, errDuplicateModule))
			break
		}
		b.handlers[key] = handler
	}

	return b
}

// Build freezes the registered handlers into a Registry
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("build module registry: %w", b.errs[0])
	}

	handlers := make(map[string]ModuleHandler, len(b.handlers))
	for name, handler := range b.handlers {
		handlers[name] = handler
	}

	return &Registry{handlers: handlers}, nil
}

// Lookup finds the handler registered for a module
func (r *Registry) Lookup(name string) (ModuleHandler, bool) {
	handler, ok := r.handlers[normalizeModuleName(name)]
	return handler, ok
}

// HasModule reports whether a module is registered
func (r *Registry) HasModule(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Modules returns the registered module names, sorted
func (r *Registry) Modules() []string {
	names, _ := funk.Keys(r.handlers).([]string)
	sort.Strings(names)
	return names
}

func (r *Registry) String() string {
	return fmt.Sprintf("<%d modules: %s>", len(r.handlers), strings.Join(r.Modules(), ", "))
}

func normalizeModuleName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
