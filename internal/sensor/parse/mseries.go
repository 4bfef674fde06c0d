package parse

import (
	"fmt"
	"math"

	"github.com/locusrobotics/quanergy-client/internal/monitoring"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/wire"
)

// MSeriesParser decodes framed M-series data packets of one packet type
// and accumulates their firings into rotation-delimited clouds.
type MSeriesParser struct {
	CloudAccumulator
	packetType uint16
}

// NewDataParser00 builds the parser for packet type 0x00.
func NewDataParser00() *MSeriesParser {
	return &MSeriesParser{
		CloudAccumulator: newCloudAccumulator(),
		packetType:       wire.PacketTypeMSeries00,
	}
}

// NewDataParser01 builds the parser for packet type 0x01.
func NewDataParser01() *MSeriesParser {
	return &MSeriesParser{
		CloudAccumulator: newCloudAccumulator(),
		packetType:       wire.PacketTypeMSeries01,
	}
}

// Matches reports whether buf carries a framed header of this parser's
// packet type.
func (p *MSeriesParser) Matches(buf []byte) bool {
	hdr, err := wire.ParseHeader(buf)
	if err != nil {
		return false
	}
	return hdr.Valid() && hdr.PacketType == p.packetType
}

// Parse decodes one packet and returns a completed cloud, or nil when the
// rotation is still in progress.
func (p *MSeriesParser) Parse(buf []byte) (*sensor.PolarCloud, error) {
	if len(p.verticalAngles) == 0 {
		return nil, fmt.Errorf("%w: vertical angle table is empty; call SetVerticalAngles", sensor.ErrInvalidVerticalAngles)
	}

	pkt, err := wire.DecodeMSeriesPacket(buf)
	if err != nil {
		return nil, err
	}

	if pkt.Status != sensor.StatusGood {
		if pkt.Status&sensor.StatusSensorSWFWMismatch != 0 {
			return nil, sensor.ErrFirmwareVersionMismatch
		}
		if pkt.Status&sensor.StatusWatchdogViolation != 0 {
			return nil, sensor.ErrFirmwareWatchdogViolation
		}
	}
	if pkt.Status != p.previousStatus {
		monitoring.Logf("Sensor status: %s", pkt.Status)
		p.previousStatus = pkt.Status
	}

	currentStamp := pkt.StampMicros()
	if p.prevPacketStamp == 0 {
		p.prevPacketStamp = currentStamp
	}
	p.packetCounter++

	// Spin direction from three positions across the packet. Disagreeing
	// signs mean the encoder wrapped inside this packet; keep the previous
	// direction.
	first := int(pkt.Firings[0].Position)
	mid := int(pkt.Firings[sensor.FiringsPerPacket/2].Position)
	last := int(pkt.Firings[sensor.FiringsPerPacket-1].Position)
	if first-mid < 0 && mid-last < 0 {
		p.direction = 1
	} else if first-mid > 0 && mid-last > 0 {
		p.direction = -1
	}

	scaling := pkt.DistanceScaling()

	var out *sensor.PolarCloud
	for i := 0; i < sensor.FiringsPerPacket; i++ {
		firing := &pkt.Firings[i]
		azimuth := sensor.AzimuthDegrees(firing.Position)

		if p.boundaryReached(azimuth) {
			stamp := interpolateStamp(p.prevPacketStamp, currentStamp, i)
			if cloud := p.completeCloud(azimuth, stamp); cloud != nil {
				out = cloud
			}
		}

		if !p.atCapacity() {
			p.emitFiring(firing, scaling)
		}

		p.lastAzimuth = azimuth
	}

	p.prevPacketStamp = currentStamp
	return out, nil
}

// interpolateStamp places a firing between the previous and current packet
// stamps, rounded to the nearest microsecond.
func interpolateStamp(prev, current uint64, firing int) uint64 {
	diff := float64(int64(current) - int64(prev))
	return uint64(math.Round(float64(prev) + diff*float64(firing)/float64(sensor.FiringsPerPacket)))
}

// emitFiring appends this firing's points under the configured return
// selection.
func (p *MSeriesParser) emitFiring(firing *wire.Firing, scaling float64) {
	h := sensor.HorizontalAngle(firing.Position)

	for j := 0; j < sensor.NumLasers; j++ {
		point := sensor.PolarPoint{
			H:    h,
			V:    p.verticalAngles[j],
			Ring: uint8(j),
		}

		if p.returnSelection == sensor.AllReturns {
			// Zero distances are never emitted here, so the cloud stays
			// dense. Returns 1 and 2 are dropped when they duplicate the
			// max return; all three carry the max return's intensity.
			point.Intensity = firing.Returns[sensor.ReturnMax].Intensities[j]
			d0 := firing.Returns[sensor.ReturnMax].Distances[j]
			if d0 != 0 {
				point.D = float64(d0) * scaling
				p.appendPoint(point)
			}
			for _, r := range []int{sensor.ReturnFirst, sensor.ReturnLast} {
				if d := firing.Returns[r].Distances[j]; d != 0 && d != d0 {
					point.D = float64(d) * scaling
					p.appendPoint(point)
				}
			}
			continue
		}

		var distance uint32
		if p.returnSelection < sensor.NumReturns {
			distance = firing.Returns[p.returnSelection].Distances[j]
			point.Intensity = firing.Returns[p.returnSelection].Intensities[j]
		}
		if distance == 0 {
			point.D = sensor.InvalidRange()
			p.current.IsDense = false
		} else {
			point.D = float64(distance) * scaling
		}
		p.appendPoint(point)
	}
}
