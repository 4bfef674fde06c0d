package parse

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/locusrobotics/quanergy-client/internal/monitoring"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/wire"
)

// rotationPacket builds a packet whose firings sweep positions
// startPos, startPos+1, ... with a constant distance on the max return.
func rotationPacket(seconds uint32, startPos int, distance uint32) *wire.DataPacket {
	pkt := &wire.DataPacket{Seconds: seconds}
	for i := range pkt.Firings {
		pkt.Firings[i].Position = uint16((startPos + i) % sensor.NumRotAngles)
		for j := 0; j < sensor.NumLasers; j++ {
			pkt.Firings[i].Returns[sensor.ReturnMax].Distances[j] = distance
			pkt.Firings[i].Returns[sensor.ReturnMax].Intensities[j] = uint8(j)
		}
	}
	return pkt
}

func newTestParser(t *testing.T) *MSeriesParser {
	t.Helper()
	p := NewDataParser00()
	p.SetFrameID("quanergy")
	if err := p.SetReturnSelection(sensor.ReturnMax); err != nil {
		t.Fatalf("SetReturnSelection: %v", err)
	}
	if err := p.SetVerticalAnglesForSensor(sensor.SensorM8); err != nil {
		t.Fatalf("SetVerticalAnglesForSensor: %v", err)
	}
	return p
}

// feedRotation parses packetCount packets sweeping one position per firing
// starting at startPos, and returns every emitted cloud.
func feedRotation(t *testing.T, p *MSeriesParser, packetCount, startPos int) []*sensor.PolarCloud {
	t.Helper()
	var clouds []*sensor.PolarCloud
	for k := 0; k < packetCount; k++ {
		// Stamp packets with the parser's running packet count so stamps
		// keep increasing across multiple feed calls.
		pkt := rotationPacket(p.packetCounter, startPos+k*sensor.FiringsPerPacket, 500)
		buf := wire.EncodeMSeriesPacket(pkt, wire.PacketTypeMSeries00)
		cloud, err := p.Parse(buf)
		if err != nil {
			t.Fatalf("Parse packet %d: %v", k, err)
		}
		if cloud != nil {
			clouds = append(clouds, cloud)
		}
	}
	return clouds
}

func TestFullRotationSingleReturn(t *testing.T) {
	p := newTestParser(t)

	// Start at the azimuth wrap (position NumRotAngles/2 maps to -180 deg)
	// so exactly one boundary fires after a full rotation.
	packets := sensor.NumRotAngles/sensor.FiringsPerPacket + 1
	clouds := feedRotation(t, p, packets, sensor.NumRotAngles/2)

	if len(clouds) != 1 {
		t.Fatalf("expected exactly 1 cloud, got %d", len(clouds))
	}
	cloud := clouds[0]

	wantSize := sensor.NumRotAngles * sensor.NumLasers
	if cloud.Size() != wantSize {
		t.Errorf("cloud size %d, expected %d", cloud.Size(), wantSize)
	}
	if !cloud.IsDense {
		t.Error("cloud with all nonzero distances should be dense")
	}
	if cloud.Height != sensor.NumLasers || cloud.Width != sensor.NumRotAngles {
		t.Errorf("organized shape %dx%d, expected %dx%d",
			cloud.Height, cloud.Width, sensor.NumLasers, sensor.NumRotAngles)
	}
	if cloud.Header.Seq != 0 {
		t.Errorf("first cloud seq %d, expected 0", cloud.Header.Seq)
	}
	if cloud.Header.FrameID != "quanergy" {
		t.Errorf("frame id %q", cloud.Header.FrameID)
	}

	// Boundary fired on firing 0 of the last packet, so the interpolated
	// stamp equals the previous packet's stamp.
	wantStamp := uint64(packets-2) * 1_000_000
	if cloud.Header.Stamp != wantStamp {
		t.Errorf("stamp %d, expected %d", cloud.Header.Stamp, wantStamp)
	}

	// Organized order is ring-major, top ring first.
	for col := 0; col < cloud.Width; col++ {
		if cloud.Points[col].Ring != sensor.NumLasers-1 {
			t.Fatalf("organized point %d has ring %d, expected top ring %d",
				col, cloud.Points[col].Ring, sensor.NumLasers-1)
		}
	}
}

func TestQuarterSweepEmitsFourCloudsPerRotation(t *testing.T) {
	p := newTestParser(t)
	if err := p.SetDegreesPerCloud(90); err != nil {
		t.Fatalf("SetDegreesPerCloud: %v", err)
	}

	packets := sensor.NumRotAngles/sensor.FiringsPerPacket + 1
	clouds := feedRotation(t, p, packets, sensor.NumRotAngles/2)

	if len(clouds) != 4 {
		t.Fatalf("expected 4 clouds per rotation, got %d", len(clouds))
	}
	quarter := sensor.NumRotAngles / 4 * sensor.NumLasers
	for i, cloud := range clouds {
		if cloud.Size() != quarter {
			t.Errorf("cloud %d size %d, expected %d", i, cloud.Size(), quarter)
		}
		if cloud.Header.Seq != uint32(i) {
			t.Errorf("cloud %d seq %d", i, cloud.Header.Seq)
		}
	}
}

func TestWrapEdgeBoundaryUsesLastAzimuth(t *testing.T) {
	p := newTestParser(t)

	// Sweep from position 0: the encoder crossing NumRotAngles-1 -> 0 does
	// not move azimuth backwards, but the azimuth sign wrap at
	// NumRotAngles/2 does, and the 360-degree sweep delta never reaches
	// the delta condition from a mid-rotation start.
	rotation := sensor.NumRotAngles / sensor.FiringsPerPacket
	clouds := feedRotation(t, p, rotation, 0)
	if len(clouds) != 1 {
		t.Fatalf("expected 1 cloud after the azimuth wrap, got %d", len(clouds))
	}
	// The first cloud covers only the half rotation before the wrap.
	if want := sensor.NumRotAngles / 2 * sensor.NumLasers; clouds[0].Size() != want {
		t.Errorf("first cloud size %d, expected %d", clouds[0].Size(), want)
	}

	// Continuing across the encoder wrap emits the next cloud only at the
	// following azimuth wrap, with a full rotation of points.
	more := feedRotation(t, p, rotation, 0)
	if len(more) != 1 {
		t.Fatalf("expected 1 cloud in second rotation, got %d", len(more))
	}
	if want := sensor.NumRotAngles * sensor.NumLasers; more[0].Size() != want {
		t.Errorf("second cloud size %d, expected %d", more[0].Size(), want)
	}
	if more[0].Header.Seq != 1 {
		t.Errorf("second cloud seq %d, expected 1", more[0].Header.Seq)
	}
	if more[0].Header.Stamp < clouds[0].Header.Stamp {
		t.Errorf("stamps decreased across clouds: %d then %d",
			clouds[0].Header.Stamp, more[0].Header.Stamp)
	}
}

func TestAllReturnsDeduplication(t *testing.T) {
	p := newTestParser(t)
	if err := p.SetReturnSelection(sensor.AllReturns); err != nil {
		t.Fatalf("SetReturnSelection: %v", err)
	}

	pkt := &wire.DataPacket{}
	for i := range pkt.Firings {
		pkt.Firings[i].Position = uint16(i)
		// Beam 0: first return duplicates the max return, last differs.
		pkt.Firings[i].Returns[sensor.ReturnMax].Distances[0] = 100
		pkt.Firings[i].Returns[sensor.ReturnMax].Intensities[0] = 77
		pkt.Firings[i].Returns[sensor.ReturnFirst].Distances[0] = 100
		pkt.Firings[i].Returns[sensor.ReturnFirst].Intensities[0] = 11
		pkt.Firings[i].Returns[sensor.ReturnLast].Distances[0] = 200
		pkt.Firings[i].Returns[sensor.ReturnLast].Intensities[0] = 22
	}
	buf := wire.EncodeMSeriesPacket(pkt, wire.PacketTypeMSeries00)
	if _, err := p.Parse(buf); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Two points per firing: max return plus the distinct last return.
	if want := 2 * sensor.FiringsPerPacket; len(p.current.Points) != want {
		t.Fatalf("accumulated %d points, expected %d", len(p.current.Points), want)
	}
	// All returns carry the max return's intensity.
	for i, pt := range p.current.Points {
		if pt.Intensity != 77 {
			t.Fatalf("point %d intensity %d, expected max return intensity 77", i, pt.Intensity)
		}
		if math.IsNaN(pt.D) {
			t.Fatalf("point %d has NaN range in all-returns mode", i)
		}
	}
	if !p.current.IsDense {
		t.Error("all-returns cloud must stay dense")
	}
}

func TestFirmwareStatusErrors(t *testing.T) {
	cases := []struct {
		status sensor.StatusFlags
		want   error
	}{
		{sensor.StatusSensorSWFWMismatch, sensor.ErrFirmwareVersionMismatch},
		{sensor.StatusWatchdogViolation, sensor.ErrFirmwareWatchdogViolation},
	}
	for _, tc := range cases {
		p := newTestParser(t)
		pkt := rotationPacket(0, 0, 500)
		pkt.Status = tc.status
		buf := wire.EncodeMSeriesPacket(pkt, wire.PacketTypeMSeries00)
		cloud, err := p.Parse(buf)
		if !errors.Is(err, tc.want) {
			t.Errorf("status %v: expected %v, got %v", tc.status, tc.want, err)
		}
		if cloud != nil {
			t.Errorf("status %v: no cloud expected", tc.status)
		}
	}
}

func TestUnknownStatusLogsAndContinues(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	p := newTestParser(t)
	pkt := rotationPacket(0, 0, 500)
	pkt.Status = 1 << 3
	buf := wire.EncodeMSeriesPacket(pkt, wire.PacketTypeMSeries00)
	if _, err := p.Parse(buf); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.current.Points) == 0 {
		t.Error("packet with unknown status should still parse")
	}

	found := false
	for _, line := range logged {
		if strings.Contains(line, "Sensor status") {
			found = true
		}
	}
	if !found {
		t.Error("expected a status transition log line")
	}

	// A second packet with the same status does not log again.
	logged = nil
	if _, err := p.Parse(buf); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, line := range logged {
		if strings.Contains(line, "Sensor status") {
			t.Error("status logged again without a transition")
		}
	}
}

func TestMaximumCloudSizeCapsEmission(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	p := newTestParser(t)
	capSize := 10 * sensor.NumLasers
	if err := p.SetCloudSizeLimits(sensor.NumLasers, capSize); err != nil {
		t.Fatalf("SetCloudSizeLimits: %v", err)
	}

	packets := sensor.NumRotAngles/sensor.FiringsPerPacket + 1
	clouds := feedRotation(t, p, packets, sensor.NumRotAngles/2)
	if len(clouds) != 1 {
		t.Fatalf("expected 1 capped cloud, got %d", len(clouds))
	}
	if clouds[0].Size() != capSize {
		t.Errorf("capped cloud size %d, expected %d", clouds[0].Size(), capSize)
	}

	warnings := 0
	for _, line := range logged {
		if strings.Contains(line, "maximum cloud size") {
			warnings++
		}
	}
	if warnings != 2 {
		// One warning per cloud: the emitted one and the in-progress one.
		t.Errorf("expected 2 cap warnings over 2 clouds, got %d", warnings)
	}
}

func TestSingleReturnZeroDistanceClearsDense(t *testing.T) {
	p := newTestParser(t)
	pkt := rotationPacket(0, 0, 500)
	pkt.Firings[10].Returns[sensor.ReturnMax].Distances[3] = 0
	buf := wire.EncodeMSeriesPacket(pkt, wire.PacketTypeMSeries00)
	if _, err := p.Parse(buf); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.current.IsDense {
		t.Error("zero distance should clear the dense flag")
	}
	point := p.current.Points[10*sensor.NumLasers+3]
	if !math.IsNaN(point.D) {
		t.Errorf("expected NaN range, got %v", point.D)
	}
}

func TestParseRequiresVerticalAngles(t *testing.T) {
	p := NewDataParser00()
	buf := wire.EncodeMSeriesPacket(rotationPacket(0, 0, 500), wire.PacketTypeMSeries00)
	if _, err := p.Parse(buf); !errors.Is(err, sensor.ErrInvalidVerticalAngles) {
		t.Errorf("expected ErrInvalidVerticalAngles, got %v", err)
	}
}

func TestDistanceScalingByVersion(t *testing.T) {
	p := newTestParser(t)
	pkt := rotationPacket(0, 0, 12345)
	pkt.Version = 5
	buf := wire.EncodeMSeriesPacket(pkt, wire.PacketTypeMSeries00)
	if _, err := p.Parse(buf); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := p.current.Points[0].D, 12345*0.00001; math.Abs(got-want) > 1e-12 {
		t.Errorf("version 5 distance %v, expected %v", got, want)
	}
}

func TestSetterValidation(t *testing.T) {
	p := NewDataParser00()

	if err := p.SetReturnSelection(sensor.AllReturns); err != nil {
		t.Errorf("AllReturns should be accepted: %v", err)
	}
	if err := p.SetReturnSelection(sensor.NumLasers); err == nil {
		t.Error("selection == NumLasers should be rejected")
	}
	if err := p.SetReturnSelection(-2); err == nil {
		t.Error("selection -2 should be rejected")
	}

	if err := p.SetDegreesPerCloud(0); !errors.Is(err, sensor.ErrInvalidDegreesPerCloud) {
		t.Errorf("degrees 0: expected ErrInvalidDegreesPerCloud, got %v", err)
	}
	if err := p.SetDegreesPerCloud(360.5); !errors.Is(err, sensor.ErrInvalidDegreesPerCloud) {
		t.Errorf("degrees 360.5: expected ErrInvalidDegreesPerCloud, got %v", err)
	}
	if err := p.SetDegreesPerCloud(360); err != nil {
		t.Errorf("degrees 360 should be accepted: %v", err)
	}

	if err := p.SetVerticalAngles(make([]float64, sensor.NumLasers-1)); !errors.Is(err, sensor.ErrInvalidVerticalAngles) {
		t.Errorf("short table: expected ErrInvalidVerticalAngles, got %v", err)
	}

	if err := p.SetCloudSizeLimits(sensor.MaxCloudSize+1, 0); err == nil {
		t.Error("min above hard ceiling should be rejected")
	}
	if err := p.SetCloudSizeLimits(0, sensor.MaxCloudSize+1); err == nil {
		t.Error("max above hard ceiling should be rejected")
	}
}

func TestMatchesRoutesByPacketType(t *testing.T) {
	buf00 := wire.EncodeMSeriesPacket(rotationPacket(0, 0, 1), wire.PacketTypeMSeries00)
	buf01 := wire.EncodeMSeriesPacket(rotationPacket(0, 0, 1), wire.PacketTypeMSeries01)

	p00 := NewDataParser00()
	p01 := NewDataParser01()
	if !p00.Matches(buf00) || p00.Matches(buf01) {
		t.Error("parser00 match set wrong")
	}
	if !p01.Matches(buf01) || p01.Matches(buf00) {
		t.Error("parser01 match set wrong")
	}
	if p00.Matches([]byte{1, 2, 3}) {
		t.Error("short buffer must not match")
	}
}

func TestFirstCloudStartAzimuthSentinel(t *testing.T) {
	// A start azimuth of exactly 0 on the first cloud re-latches until a
	// nonzero azimuth arrives; the first boundary still behaves.
	p := newTestParser(t)
	clouds := feedRotation(t, p, sensor.NumRotAngles/sensor.FiringsPerPacket, 0)
	if len(clouds) != 1 {
		t.Fatalf("expected 1 cloud, got %d", len(clouds))
	}
	if p.startAzimuth == 0 {
		t.Error("start azimuth should have moved off the sentinel")
	}
}
