package sensor

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// M-series sensor geometry constants. These define the fixed shape of the
// data stream emitted by the sensor head.
const (
	// NumLasers is the number of beams in the M-series head.
	NumLasers = 8

	// NumReturns is the number of echo measurements recorded per beam per
	// firing: index 0 = max intensity, 1 = first, 2 = last.
	NumReturns = 3

	// FiringsPerPacket is the number of firings carried by one data packet.
	FiringsPerPacket = 50

	// NumRotAngles is the resolution of the rotational encoder; a position
	// value is in units of 1/NumRotAngles of a full turn.
	NumRotAngles = 10400

	// MaxCloudSize is the hard ceiling for configured cloud size limits.
	MaxCloudSize = 10_000_000

	// DefaultMinimumCloudSize and DefaultMaximumCloudSize bound a cloud when
	// no explicit limits are configured. The maximum covers a full rotation
	// with every return populated.
	DefaultMinimumCloudSize = 1000
	DefaultMaximumCloudSize = NumRotAngles * NumLasers * NumReturns
)

// Return echo indices for single-return selection.
const (
	ReturnMax   = 0
	ReturnFirst = 1
	ReturnLast  = 2

	// AllReturns selects every non-duplicate echo instead of a single index.
	AllReturns = -1
)

// PolarPoint is one range measurement in sensor-polar form.
type PolarPoint struct {
	H         float64 // horizontal angle, radians, [-pi, pi)
	V         float64 // vertical angle, radians, sensor-calibrated
	D         float64 // range in meters; NaN when the beam saw no return
	Intensity uint8
	Ring      uint8 // beam index, 0..NumLasers-1
}

// CartesianPoint is a converted point in the sensor frame.
type CartesianPoint struct {
	Vec       r3.Vec
	Intensity uint8
	Ring      uint8
}

// CloudHeader identifies one emitted cloud within a stream.
type CloudHeader struct {
	Stamp   uint64 // microseconds
	Seq     uint32 // monotonic per parser
	FrameID string
}

// PolarCloud is an ordered collection of polar points covering one sweep.
// Height/Width describe the organized 2-D shape once organized; an
// unorganized cloud has Height 1 and Width equal to the point count.
type PolarCloud struct {
	Header  CloudHeader
	Points  []PolarPoint
	IsDense bool
	Height  int
	Width   int
}

// Size returns the number of points in the cloud.
func (c *PolarCloud) Size() int { return len(c.Points) }

// CartesianCloud mirrors PolarCloud after coordinate conversion.
type CartesianCloud struct {
	Header  CloudHeader
	Points  []CartesianPoint
	IsDense bool
	Height  int
	Width   int
}

// Size returns the number of points in the cloud.
func (c *CartesianCloud) Size() int { return len(c.Points) }

// InvalidRange is the marker value for a beam with no return.
func InvalidRange() float64 { return math.NaN() }
