// Package convert transforms finished polar clouds into Cartesian clouds
// for downstream consumers. The conversion is pure; the converter holds no
// cross-cloud state beyond its subscriber registry.
package convert

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/signal"
)

// PolarToCartConverter consumes polar clouds and publishes their Cartesian
// counterparts.
type PolarToCartConverter struct {
	clouds signal.Signal[*sensor.CartesianCloud]
}

// NewPolarToCartConverter builds an idle converter.
func NewPolarToCartConverter() *PolarToCartConverter {
	return &PolarToCartConverter{}
}

// Slot converts one cloud and emits the result to subscribers.
func (c *PolarToCartConverter) Slot(cloud *sensor.PolarCloud) {
	c.clouds.Emit(Convert(cloud))
}

// Subscribe registers a sink for converted clouds.
func (c *PolarToCartConverter) Subscribe(fn func(*sensor.CartesianCloud)) *signal.Handle {
	return c.clouds.Subscribe(fn)
}

// Convert maps every point of a polar cloud to Cartesian coordinates.
// Header, shape, and density carry over unchanged; NaN ranges propagate
// into all three coordinates.
func Convert(cloud *sensor.PolarCloud) *sensor.CartesianCloud {
	out := &sensor.CartesianCloud{
		Header:  cloud.Header,
		Points:  make([]sensor.CartesianPoint, len(cloud.Points)),
		IsDense: cloud.IsDense,
		Height:  cloud.Height,
		Width:   cloud.Width,
	}
	for i, p := range cloud.Points {
		out.Points[i] = convertPoint(p)
	}
	return out
}

func convertPoint(p sensor.PolarPoint) sensor.CartesianPoint {
	out := sensor.CartesianPoint{
		Intensity: p.Intensity,
		Ring:      p.Ring,
	}
	if math.IsNaN(p.D) {
		nan := math.NaN()
		out.Vec = r3.Vec{X: nan, Y: nan, Z: nan}
		return out
	}
	cosV := math.Cos(p.V)
	out.Vec = r3.Vec{
		X: p.D * cosV * math.Cos(p.H),
		Y: p.D * cosV * math.Sin(p.H),
		Z: p.D * math.Sin(p.V),
	}
	return out
}
