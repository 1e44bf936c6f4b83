package backend

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// Backend name constants.
const (
	// Software is the name of the in-memory backend.
	Software = "software"
	// Native is the name of the GPU backend over gogpu/wgpu hal.
	Native = "native"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory creates a device. Factories report unavailable hardware as errors.
type Factory func() (gpucore.Device, error)
