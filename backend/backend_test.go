package backend_test

import (
	"errors"
	"testing"

	"github.com/gogpu/framegraph/backend"
	_ "github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/gpucore"
)

func TestRegistrySoftwareAutoRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.Software) {
		t.Fatal("software backend should be auto-registered")
	}

	d, err := backend.Open(backend.Software)
	if err != nil {
		t.Fatalf("Open(software) error = %v", err)
	}
	if d.Name() != backend.Software {
		t.Errorf("Name() = %q, want %q", d.Name(), backend.Software)
	}
}

func TestRegistryOpenUnknown(t *testing.T) {
	_, err := backend.Open("nonexistent")
	if !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Errorf("Open(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	backend.Register("test", func() (gpucore.Device, error) {
		return nil, errors.New("no hardware")
	})
	defer backend.Unregister("test")

	found := false
	for _, name := range backend.Available() {
		if name == "test" {
			found = true
		}
	}
	if !found {
		t.Errorf("Available() = %v, missing %q", backend.Available(), "test")
	}

	if _, err := backend.Open("test"); err == nil {
		t.Error("Open(test) succeeded, want factory error")
	}

	backend.Unregister("test")
	if backend.IsRegistered("test") {
		t.Error("test backend still registered after Unregister")
	}
}

func TestOpenDefaultFallsBackToSoftware(t *testing.T) {
	backend.Register(backend.Native, func() (gpucore.Device, error) {
		return nil, errors.New("no adapter")
	})
	defer backend.Unregister(backend.Native)

	d, err := backend.OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault() error = %v", err)
	}
	if d.Name() != backend.Software {
		t.Errorf("OpenDefault() picked %q, want %q", d.Name(), backend.Software)
	}
}
