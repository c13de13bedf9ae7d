// Package env holds the explicit environment struct threaded through every
// editing operation: engine limits, the configured WAD search list, and the
// cooperative progress/cancel hook. Nothing here is a package-level
// singleton -- callers construct one and pass it by reference.
package env

import (
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// Signal is returned by a Progress callback to request cancellation of a
// long-running operation (compaction walks, atlas packing, ...).
type Signal int

const (
	Continue Signal = iota
	Cancel
)

// Limits mirrors the engine-specific constants enforced by the original
// Half-Life tools. They are advisory: the writer never refuses to emit a
// file that exceeds them (spec.md Sec7, LimitExceeded), but operations use
// them to decide when to subdivide, downscale, or warn.
type Limits struct {
	MaxLightmapLuxelsPerAxis int     `yaml:"maxLightmapLuxelsPerAxis"` // 16
	LuxelWorldUnits          float64 `yaml:"luxelWorldUnits"`         // 16.0
	MaxMapExtent             float64 `yaml:"maxMapExtent"`            // 4096.0 (engine coordinate clamp)
	MaxFacesPerLeaf          int     `yaml:"maxFacesPerLeaf"`
	MaxTextureDim            int     `yaml:"maxTextureDim"`
	AtlasSize                int32   `yaml:"atlasSize"` // 2048
	AtlasZone                int32   `yaml:"atlasZone"` // 128
}

// DefaultLimits matches the Half-Life (BSP v30) compile-tool constants.
func DefaultLimits() Limits {
	return Limits{
		MaxLightmapLuxelsPerAxis: 16,
		LuxelWorldUnits:          16.0,
		MaxMapExtent:             4096.0,
		MaxFacesPerLeaf:          32767,
		MaxTextureDim:            512,
		AtlasSize:                2048,
		AtlasZone:                128,
	}
}

// Environment is passed by reference into every operation that needs engine
// limits, WAD lookups, verbosity, or cancellation -- replacing the module
// level globals (progress sink, verbose flag, engine limits, current wad
// list) the original tool carried.
type Environment struct {
	Limits  Limits
	Wads    []string // search path, first match wins
	Verbose bool

	// Progress is polled periodically by long operations; returning Cancel
	// aborts the operation and the caller restores its pre-edit snapshot.
	Progress func(message string, done, total int) Signal
}

// New builds an Environment with default Half-Life limits and a no-op
// progress callback.
func New() *Environment {
	return &Environment{
		Limits:  DefaultLimits(),
		Progress: func(string, int, int) Signal {
			return Continue
		},
	}
}

// LoadProfile reads a YAML engine-limit profile (e.g. "halflife.yaml" or
// "extended.yaml" for forks with relaxed lightmap/texture limits).
func LoadProfile(path string) (Limits, error) {
	f, err := os.Open(path)
	if err != nil {
		return Limits{}, err
	}
	defer f.Close()
	return decodeLimits(f)
}

func decodeLimits(r io.Reader) (Limits, error) {
	limits := DefaultLimits()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&limits); err != nil && err != io.EOF {
		return Limits{}, err
	}
	return limits, nil
}

// ShouldCancel is a convenience wrapper so call sites don't duplicate the
// Continue/Cancel comparison.
func (e *Environment) ShouldCancel(message string, done, total int) bool {
	if e.Progress == nil {
		return false
	}
	return e.Progress(message, done, total) == Cancel
}
