package bspfile

import "errors"

// Error taxonomy per spec Sec7. Components wrap these with fmt.Errorf's
// %w verb so callers can errors.Is against the sentinel regardless of
// which package actually raised it -- the teacher wraps similarly with
// fmt.Errorf("...: %v", err), just without a stable sentinel to match on.
var (
	// Format errors -- fatal for the load.
	ErrBadHeader       = errors.New("bspfile: bad header")
	ErrTruncatedLump   = errors.New("bspfile: truncated lump")
	ErrBadRecordCount  = errors.New("bspfile: bad record count")
	ErrMalformedEnts   = errors.New("bspfile: malformed entity block")

	// Invariant violations detected post-edit -- caller rolls back.
	ErrBadIndex        = errors.New("bspfile: index out of range")
	ErrDegenerateFace  = errors.New("bspfile: degenerate face")
	ErrNonPlanarFace   = errors.New("bspfile: non-planar face")
	ErrPlaneNotUnit    = errors.New("bspfile: plane normal not unit length")
	ErrLeafOutOfRange  = errors.New("bspfile: leaf index out of range")

	// Convexity/geometry failures -- expected during user-driven edits.
	ErrNonConvex                   = errors.New("bspfile: model is not convex")
	ErrBoundsOverlap               = errors.New("bspfile: bounding boxes overlap")
	ErrNotSeparable                = errors.New("bspfile: no axis-aligned separating plane")
	ErrCoplanarDup                 = errors.New("bspfile: coplanar duplicate plane")
	ErrSharedStructureUnresolvable = errors.New("bspfile: shared structure could not be split")

	// Limit overflows -- operation still permitted, warning only.
	ErrLimitExceeded = errors.New("bspfile: engine limit exceeded")

	// External resource missing -- diagnostic only, never fatal.
	ErrMissingTexture = errors.New("bspfile: texture missing from configured wads")
	ErrMissingWad     = errors.New("bspfile: wad not found")

	// Cooperative cancellation.
	ErrCancelled = errors.New("bspfile: operation cancelled")
)
