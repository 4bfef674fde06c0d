package sensor

import (
	"fmt"
	"math"
)

// M8VerticalAngles is the factory beam elevation ladder for the M8 head,
// in radians, ring 0 first.
var M8VerticalAngles = [NumLasers]float64{
	-0.318505,
	-0.2692,
	-0.218009,
	-0.165195,
	-0.111003,
	-0.0557982,
	0,
	0.0557982,
}

// MQ8VerticalAngles is the elevation ladder for the MQ8 head. The MQ8
// shares the M8 optical bench.
var MQ8VerticalAngles = M8VerticalAngles

// SensorType names a vertical-angle preset.
type SensorType int

const (
	SensorM8 SensorType = iota
	SensorMQ8
)

// VerticalAnglesFor returns the preset elevation table for a sensor type.
func VerticalAnglesFor(sensor SensorType) ([NumLasers]float64, error) {
	switch sensor {
	case SensorM8:
		return M8VerticalAngles, nil
	case SensorMQ8:
		return MQ8VerticalAngles, nil
	default:
		return [NumLasers]float64{}, fmt.Errorf("%w: unknown sensor type %d", ErrInvalidVerticalAngles, sensor)
	}
}

// horizontalAngles maps an encoder position onto [-pi, pi). The table has
// NumRotAngles+1 entries; the last is a guard for wrap so position
// NumRotAngles reads the same angle as position 0.
var horizontalAngles = buildHorizontalAngles()

func buildHorizontalAngles() []float64 {
	table := make([]float64, NumRotAngles+1)
	for i := 0; i <= NumRotAngles; i++ {
		// Shift by half the rotation so the wrapped value stays positive.
		j := (i + NumRotAngles/2) % NumRotAngles
		n := float64(j) / float64(NumRotAngles)
		table[i] = n*math.Pi*2.0 - math.Pi
	}
	return table
}

// HorizontalAngle returns the lookup angle in radians for an encoder
// position.
func HorizontalAngle(position uint16) float64 {
	if int(position) > NumRotAngles {
		position = uint16(int(position) % NumRotAngles)
	}
	return horizontalAngles[position]
}

// AzimuthDegrees converts an encoder position to signed degrees in
// [-180, 180), applying the same half-turn shift as the lookup table.
func AzimuthDegrees(position uint16) float64 {
	j := (int(position) + NumRotAngles/2) % NumRotAngles
	return float64(j)/float64(NumRotAngles)*360.0 - 180.0
}
