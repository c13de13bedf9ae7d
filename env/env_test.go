package env

import (
	"strings"
	"testing"
)

func TestNewHasDefaultLimitsAndProgress(t *testing.T) {
	e := New()
	if e.Limits != DefaultLimits() {
		t.Fatalf("New().Limits = %+v, want DefaultLimits()", e.Limits)
	}
	if e.ShouldCancel("", 0, 1) {
		t.Fatal("New()'s default Progress should never request cancellation")
	}
}

func TestShouldCancelReflectsProgressSignal(t *testing.T) {
	e := New()
	e.Progress = func(string, int, int) Signal { return Cancel }
	if !e.ShouldCancel("", 0, 1) {
		t.Fatal("ShouldCancel should report true when Progress returns Cancel")
	}
}

func TestShouldCancelNilProgress(t *testing.T) {
	e := &Environment{}
	if e.ShouldCancel("", 0, 1) {
		t.Fatal("a nil Progress hook must never request cancellation")
	}
}

func TestDecodeLimitsParsesYAMLOverrides(t *testing.T) {
	r := strings.NewReader(`maxLightmapLuxelsPerAxis: 32
atlasSize: 4096
`)
	limits, err := decodeLimits(r)
	if err != nil {
		t.Fatalf("decodeLimits: %v", err)
	}
	if limits.MaxLightmapLuxelsPerAxis != 32 {
		t.Fatalf("MaxLightmapLuxelsPerAxis = %d, want 32", limits.MaxLightmapLuxelsPerAxis)
	}
	if limits.AtlasSize != 4096 {
		t.Fatalf("AtlasSize = %d, want 4096", limits.AtlasSize)
	}
	// Fields absent from the YAML keep DefaultLimits' values.
	if limits.LuxelWorldUnits != DefaultLimits().LuxelWorldUnits {
		t.Fatalf("LuxelWorldUnits = %v, want the unchanged default", limits.LuxelWorldUnits)
	}
}

func TestDecodeLimitsEmptyInputKeepsDefaults(t *testing.T) {
	limits, err := decodeLimits(strings.NewReader(""))
	if err != nil {
		t.Fatalf("decodeLimits: %v", err)
	}
	if limits != DefaultLimits() {
		t.Fatalf("decodeLimits(\"\") = %+v, want DefaultLimits()", limits)
	}
}
