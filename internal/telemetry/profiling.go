package telemetry

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL, e.g. "http://localhost:4040".
	Endpoint string

	// ProfileTypes lists the profiles to collect: cpu, alloc_objects,
	// alloc_space, inuse_objects, inuse_space, goroutines, mutex_count,
	// mutex_duration, block_count, block_duration.
	ProfileTypes []string
}

// InitProfiling starts the profiler. The returned function stops it.
func InitProfiling(cfg ProfilingConfig) (stop func() error, err error) {
	if !cfg.Enabled {
		return func() error { return nil }, nil
	}

	types := make([]pyroscope.ProfileType, 0, len(cfg.ProfileTypes))
	for _, name := range cfg.ProfileTypes {
		pt, err := parseProfileType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, pt)

		switch name {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(5)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(5)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	return profiler.Stop, nil
}

func parseProfileType(name string) (pyroscope.ProfileType, error) {
	switch name {
	case "cpu":
		return pyroscope.ProfileCPU, nil
	case "alloc_objects":
		return pyroscope.ProfileAllocObjects, nil
	case "alloc_space":
		return pyroscope.ProfileAllocSpace, nil
	case "inuse_objects":
		return pyroscope.ProfileInuseObjects, nil
	case "inuse_space":
		return pyroscope.ProfileInuseSpace, nil
	case "goroutines":
		return pyroscope.ProfileGoroutines, nil
	case "mutex_count":
		return pyroscope.ProfileMutexCount, nil
	case "mutex_duration":
		return pyroscope.ProfileMutexDuration, nil
	case "block_count":
		return pyroscope.ProfileBlockCount, nil
	case "block_duration":
		return pyroscope.ProfileBlockDuration, nil
	}
	return "", fmt.Errorf("unknown profile type %q", name)
}
