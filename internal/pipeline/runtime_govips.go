//go:build govips && cgo

package pipeline

import (
	"errors"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// ErrRuntimeStopped is returned once Shutdown has run; libvips cannot be
// initialised twice in one process.
var ErrRuntimeStopped = errors.New("image runtime already shut down")

type runtimeState int

const (
	runtimeIdle runtimeState = iota
	runtimeRunning
	runtimeStopped
)

var (
	runtimeMu sync.Mutex
	vipsState runtimeState
)

// Startup initialises libvips for WebP export. It is idempotent and cheap
// after the first call, so encoders call it lazily.
func Startup() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	switch vipsState {
	case runtimeRunning:
		return nil
	case runtimeStopped:
		return ErrRuntimeStopped
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	// Only encoding goes through vips; decoded inputs are never cached.
	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   64 * 1024 * 1024,
		MaxCacheSize:  0,
	})
	vipsState = runtimeRunning
	return nil
}

func Shutdown() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if vipsState == runtimeRunning {
		vips.Shutdown()
	}
	vipsState = runtimeStopped
}
