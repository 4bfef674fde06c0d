package wire

import (
	"encoding/binary"

	"github.com/locusrobotics/quanergy-client/internal/sensor"
)

// Encoding of data packets. The client only consumes the stream; these
// encoders exist for test fixtures and replay tooling.

func appendFiring(buf []byte, f Firing) []byte {
	buf = binary.BigEndian.AppendUint16(buf, f.Position)
	buf = binary.BigEndian.AppendUint16(buf, 0) // pad
	for r := 0; r < sensor.NumReturns; r++ {
		for j := 0; j < sensor.NumLasers; j++ {
			buf = binary.BigEndian.AppendUint32(buf, f.Returns[r].Distances[j])
		}
		for j := 0; j < sensor.NumLasers; j++ {
			buf = append(buf, f.Returns[r].Intensities[j])
		}
	}
	return buf
}

// EncodeMSeriesPacket renders a framed M-series data packet of the given
// packet type.
func EncodeMSeriesPacket(pkt *DataPacket, packetType uint16) []byte {
	buf := make([]byte, 0, MSeriesPacketSize)
	buf = binary.BigEndian.AppendUint32(buf, Magic)
	buf = binary.BigEndian.AppendUint32(buf, MSeriesPacketSize)
	buf = binary.BigEndian.AppendUint16(buf, packetType)
	buf = binary.BigEndian.AppendUint16(buf, pkt.Version)
	buf = binary.BigEndian.AppendUint32(buf, pkt.Seconds)
	buf = binary.BigEndian.AppendUint32(buf, pkt.Nanoseconds)
	for i := 0; i < sensor.FiringsPerPacket; i++ {
		buf = appendFiring(buf, pkt.Firings[i])
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(pkt.Status))
	return buf
}

// EncodeLegacyPacket renders a header-less M8 packet with the trailing
// timing and status suffix.
func EncodeLegacyPacket(pkt *DataPacket) []byte {
	buf := make([]byte, 0, LegacyPacketSize)
	for i := 0; i < sensor.FiringsPerPacket; i++ {
		buf = appendFiring(buf, pkt.Firings[i])
	}
	buf = binary.BigEndian.AppendUint32(buf, pkt.Seconds)
	buf = binary.BigEndian.AppendUint32(buf, pkt.Nanoseconds)
	buf = binary.BigEndian.AppendUint16(buf, pkt.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(pkt.Status))
	return buf
}
