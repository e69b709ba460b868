package mixer

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func staticHandler(code int) ModuleHandler {
	return ModuleHandlerFunc(func(json.RawMessage) Outcome {
		if code == CodeOK {
			return OK("ok", -1)
		}
		return Fail(code, "static", "")
	})
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register("Audio", staticHandler(CodeOK)).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, name := range []string{"audio", "AUDIO", " Audio "} {
		if !registry.HasModule(name) {
			t.Errorf("HasModule(%q) = false, want true", name)
		}
	}

	if registry.HasModule("video") {
		t.Error(`HasModule("video") = true, want false`)
	}
}

func TestRegistryBuilderErrors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(b *RegistryBuilder)
		wantErr error
	}{
		{
			name:    "empty name",
			build:   func(b *RegistryBuilder) { b.Register("  ", staticHandler(CodeOK)) },
			wantErr: errEmptyModuleName,
		},
		{
			name:    "nil handler",
			build:   func(b *RegistryBuilder) { b.Register("audio", nil) },
			wantErr: errNilHandler,
		},
		{
			name: "duplicate",
			build: func(b *RegistryBuilder) {
				b.Register("audio", staticHandler(CodeOK)).Register("AUDIO", staticHandler(CodeOK))
			},
			wantErr: errDuplicateModule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewRegistryBuilder()
			tt.build(b)

			_, err := b.Build()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryIsFrozen(t *testing.T) {
	b := NewRegistryBuilder().Register("audio", staticHandler(CodeOK))

	registry, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// registering on the builder afterwards doesn't leak into the built registry
	b.Register("video", staticHandler(CodeOK))

	if registry.HasModule("video") {
		t.Error("registry changed after Build()")
	}
}

func TestRegistryModules(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Register("zeta", staticHandler(CodeOK)).
		Register("audio", staticHandler(CodeOK)).
		Register("Media", staticHandler(CodeOK)).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{"audio", "media", "zeta"}
	if got := registry.Modules(); !reflect.DeepEqual(got, want) {
		t.Errorf("Modules() = %v, want %v", got, want)
	}
}
