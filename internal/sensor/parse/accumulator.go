package parse

import (
	"fmt"

	"github.com/locusrobotics/quanergy-client/internal/monitoring"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
)

// CloudState describes the accumulator's position in the cloud lifecycle.
// Transitions are size-driven. A rotation boundary emits the cloud only
// when it holds more than the minimum number of points; a smaller cloud,
// including an Eligible one of exactly the minimum size, is dropped with a
// warning and the accumulator resets.
type CloudState int

const (
	StateFresh        CloudState = iota // no points
	StateAccumulating                   // 1 <= size < minimum
	StateEligible                       // minimum <= size < maximum
	StateFull                           // size >= maximum
)

func (s CloudState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateAccumulating:
		return "accumulating"
	case StateEligible:
		return "eligible"
	case StateFull:
		return "full"
	default:
		return "unknown"
	}
}

// lastAzimuthSentinel marks the azimuth state before any firing has been
// seen. It is far outside the [-180, 180) range, so with forward spin the
// first wrap comparison fires a boundary on the still-empty cloud, which
// only resets it; with reverse spin that comparison does not fire.
const lastAzimuthSentinel = 65000

// CloudAccumulator holds the rotation-boundary state machine shared by the
// sub-parsers. Each parser owns one; it collects firings into the current
// cloud and hands the cloud off when a rotation boundary fires.
type CloudAccumulator struct {
	frameID         string
	returnSelection int
	minimumSize     int
	maximumSize     int
	degreesPerCloud float64
	verticalAngles  []float64

	packetCounter   uint32
	cloudCounter    uint32
	direction       int
	lastAzimuth     float64
	startAzimuth    float64
	prevPacketStamp uint64
	previousStatus  sensor.StatusFlags
	cloudFull       bool

	current *sensor.PolarCloud
}

func newCloudAccumulator() CloudAccumulator {
	a := CloudAccumulator{
		returnSelection: sensor.AllReturns,
		minimumSize:     sensor.DefaultMinimumCloudSize,
		maximumSize:     sensor.DefaultMaximumCloudSize,
		degreesPerCloud: 360.0,
		lastAzimuth:     lastAzimuthSentinel,
	}
	a.resetCloud()
	return a
}

// SetFrameID sets the frame identifier stamped into every emitted cloud.
func (a *CloudAccumulator) SetFrameID(frameID string) {
	a.frameID = frameID
}

// SetReturnSelection selects sensor.AllReturns or a single return index.
func (a *CloudAccumulator) SetReturnSelection(selection int) error {
	if selection != sensor.AllReturns && (selection < 0 || selection >= sensor.NumLasers) {
		return fmt.Errorf("%w: %d", sensor.ErrInvalidReturnSelection, selection)
	}
	a.returnSelection = selection
	return nil
}

// SetCloudSizeLimits configures the minimum and maximum cloud sizes. Zero
// or negative values leave the corresponding limit unchanged; the minimum
// is floored at 1 and the maximum at the minimum.
func (a *CloudAccumulator) SetCloudSizeLimits(szmin, szmax int) error {
	if szmin > sensor.MaxCloudSize || szmax > sensor.MaxCloudSize {
		return fmt.Errorf("cloud size limits cannot be larger than %d", sensor.MaxCloudSize)
	}
	if szmin > 0 {
		a.minimumSize = max(1, szmin)
	}
	if szmax > 0 {
		a.maximumSize = max(a.minimumSize, szmax)
	}
	return nil
}

// SetDegreesPerCloud configures the sweep width that delimits a cloud.
func (a *CloudAccumulator) SetDegreesPerCloud(degrees float64) error {
	if degrees <= 0 || degrees > 360.0 {
		return fmt.Errorf("%w: %v", sensor.ErrInvalidDegreesPerCloud, degrees)
	}
	a.degreesPerCloud = degrees
	return nil
}

// SetVerticalAngles installs a per-ring elevation table in radians.
func (a *CloudAccumulator) SetVerticalAngles(angles []float64) error {
	if len(angles) != sensor.NumLasers {
		return fmt.Errorf("%w: need %d angles, got %d", sensor.ErrInvalidVerticalAngles, sensor.NumLasers, len(angles))
	}
	a.verticalAngles = append([]float64(nil), angles...)
	return nil
}

// SetVerticalAnglesForSensor installs a named preset table.
func (a *CloudAccumulator) SetVerticalAnglesForSensor(sensorType sensor.SensorType) error {
	angles, err := sensor.VerticalAnglesFor(sensorType)
	if err != nil {
		return err
	}
	return a.SetVerticalAngles(angles[:])
}

// State reports the lifecycle state of the in-progress cloud.
func (a *CloudAccumulator) State() CloudState {
	size := len(a.current.Points)
	switch {
	case size == 0:
		return StateFresh
	case size < a.minimumSize:
		return StateAccumulating
	case size < a.maximumSize:
		return StateEligible
	default:
		return StateFull
	}
}

// CloudCounter returns the number of clouds emitted so far.
func (a *CloudAccumulator) CloudCounter() uint32 { return a.cloudCounter }

func (a *CloudAccumulator) resetCloud() {
	capacity := a.maximumSize
	if capacity > sensor.DefaultMaximumCloudSize {
		capacity = sensor.DefaultMaximumCloudSize
	}
	a.current = &sensor.PolarCloud{
		IsDense: true,
		Points:  make([]sensor.PolarPoint, 0, capacity),
	}
	a.cloudFull = false
}

// boundaryReached evaluates the rotation-boundary condition for a firing's
// azimuth. It latches the start azimuth on the very first cloud.
func (a *CloudAccumulator) boundaryReached(azimuth float64) bool {
	delta := 0.0
	if a.cloudCounter == 0 && a.startAzimuth == 0 {
		a.startAzimuth = azimuth
	} else {
		delta = float64(a.direction) * (azimuth - a.startAzimuth)
		for delta < 0 {
			delta += 360.0
		}
	}
	if delta >= a.degreesPerCloud {
		return true
	}
	return a.degreesPerCloud == 360.0 &&
		float64(a.direction)*azimuth < float64(a.direction)*a.lastAzimuth
}

// completeCloud stamps and hands off the current cloud if it is large
// enough, then starts a fresh one. azimuth becomes the new sweep start.
func (a *CloudAccumulator) completeCloud(azimuth float64, stamp uint64) *sensor.PolarCloud {
	a.startAzimuth = azimuth

	var out *sensor.PolarCloud
	size := len(a.current.Points)
	switch {
	case size > a.minimumSize:
		cloud := a.current
		cloud.Header.Stamp = stamp
		cloud.Header.Seq = a.cloudCounter
		cloud.Header.FrameID = a.frameID
		if a.returnSelection != sensor.AllReturns {
			organizeCloud(cloud)
		} else {
			cloud.Height = 1
			cloud.Width = size
		}
		a.cloudCounter++
		out = cloud
	case size > 0:
		monitoring.Logf("Warning: minimum cloud size limit of (%d) not reached (%d)", a.minimumSize, size)
	}

	a.resetCloud()
	return out
}

// appendPoint adds a point to the in-progress cloud.
func (a *CloudAccumulator) appendPoint(p sensor.PolarPoint) {
	a.current.Points = append(a.current.Points, p)
}

// atCapacity reports whether point emission should be skipped, logging once
// per cloud when the cap is first hit.
func (a *CloudAccumulator) atCapacity() bool {
	if a.cloudFull {
		return true
	}
	if len(a.current.Points) >= a.maximumSize {
		monitoring.Logf("Warning: maximum cloud size limit of (%d) exceeded", a.maximumSize)
		a.cloudFull = true
		return true
	}
	return false
}

// organizeCloud transposes from collect-major/laser-minor order to
// ring-major/column-minor order, rings emitted top down.
func organizeCloud(cloud *sensor.PolarCloud) {
	width := len(cloud.Points) / sensor.NumLasers
	organized := make([]sensor.PolarPoint, 0, width*sensor.NumLasers)
	for ring := sensor.NumLasers - 1; ring >= 0; ring-- {
		for col := 0; col < width; col++ {
			organized = append(organized, cloud.Points[col*sensor.NumLasers+ring])
		}
	}
	cloud.Points = organized
	cloud.Height = sensor.NumLasers
	cloud.Width = width
}
