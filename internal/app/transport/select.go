package transport

import (
	"fmt"

	"github.com/hearby/hearby/internal/core"
)

// Deps is everything the mesh transport needs; the cloud path ignores it.
type Deps struct {
	Store  core.SignalStore
	Media  core.MediaFactory
	Device core.AudioDevice
}

// ForMode picks the transport implementation for the configured mode.
func ForMode(mode core.TransportMode, deps Deps) (core.Transport, error) {
	switch mode {
	case core.TransportP2P:
		return NewP2P(deps.Store, deps.Media, deps.Device), nil
	case core.TransportCloud:
		return NewCloud(), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}
