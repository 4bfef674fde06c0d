package parse

import (
	"github.com/locusrobotics/quanergy-client/internal/monitoring"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/wire"
)

// legacyDirectionThreshold separates a genuine position jump from encoder
// wrap when only the packet endpoints are compared.
const legacyDirectionThreshold = 4000

// FailoverParser decodes header-less legacy M8 packets. It matches any
// buffer, so it must be registered last in the dispatcher.
type FailoverParser struct {
	CloudAccumulator
}

// NewFailoverParser builds the legacy parser with the M8 elevation ladder
// and single max-return emission.
func NewFailoverParser() *FailoverParser {
	p := &FailoverParser{CloudAccumulator: newCloudAccumulator()}
	p.returnSelection = sensor.ReturnMax
	p.verticalAngles = append([]float64(nil), sensor.M8VerticalAngles[:]...)
	return p
}

// Universal marks this parser as a catch-all for dispatcher ordering.
func (p *FailoverParser) Universal() bool { return true }

// Matches accepts every buffer.
func (p *FailoverParser) Matches([]byte) bool { return true }

// Parse decodes one legacy packet and returns a completed cloud, or nil
// when the rotation is still in progress.
func (p *FailoverParser) Parse(buf []byte) (*sensor.PolarCloud, error) {
	pkt, err := wire.DecodeLegacyPacket(buf)
	if err != nil {
		return nil, err
	}

	if pkt.Status != 0 {
		monitoring.Logf("Sensor status nonzero: %s", pkt.Status)
		if pkt.Status == sensor.StatusSensorSWFWMismatch {
			return nil, sensor.ErrFirmwareVersionMismatch
		}
		// Unknown status values are not necessarily fatal; skip the packet.
		return nil, nil
	}

	stamp := pkt.LegacyStampMicros()
	if p.prevPacketStamp == 0 {
		p.prevPacketStamp = stamp
	}
	p.packetCounter++

	// Endpoint-only direction heuristic with the legacy wrap threshold.
	first := int(pkt.Firings[0].Position)
	last := int(pkt.Firings[sensor.FiringsPerPacket-1].Position)
	if first-last > 0 {
		if first-last > legacyDirectionThreshold {
			p.direction = 1
		} else {
			p.direction = -1
		}
	} else {
		if last-first > legacyDirectionThreshold {
			p.direction = -1
		} else {
			p.direction = 1
		}
	}

	var out *sensor.PolarCloud
	for i := 0; i < sensor.FiringsPerPacket; i++ {
		firing := &pkt.Firings[i]
		azimuth := sensor.AzimuthDegrees(firing.Position)

		// The legacy format always sweeps a full rotation; the boundary is
		// purely the azimuth moving backwards against the spin direction.
		if float64(p.direction)*azimuth < float64(p.direction)*p.lastAzimuth {
			if cloud := p.completeCloud(azimuth, stamp); cloud != nil {
				out = cloud
			}
		}

		if !p.atCapacity() {
			p.emitFiring(firing)
		}

		p.lastAzimuth = azimuth
	}

	p.prevPacketStamp = stamp
	return out, nil
}

// emitFiring appends one point per beam from the max return; zero
// distances become NaN ranges and clear the dense flag.
func (p *FailoverParser) emitFiring(firing *wire.Firing) {
	h := sensor.HorizontalAngle(firing.Position)
	for j := 0; j < sensor.NumLasers; j++ {
		point := sensor.PolarPoint{
			H:         h,
			V:         p.verticalAngles[j],
			Intensity: firing.Returns[sensor.ReturnMax].Intensities[j],
			Ring:      uint8(j),
		}
		distance := firing.Returns[sensor.ReturnMax].Distances[j]
		if distance == 0 {
			point.D = sensor.InvalidRange()
			p.current.IsDense = false
		} else {
			point.D = float64(distance) * 0.01
		}
		p.appendPoint(point)
	}
}
