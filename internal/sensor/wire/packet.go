// Package wire decodes the M-series binary packet formats: the 20-byte
// framed header, the versioned M-series data payload, and the header-less
// legacy M8 packet accepted in failover mode. All integers on the wire are
// big-endian.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/locusrobotics/quanergy-client/internal/sensor"
)

const (
	// HeaderSize is the length of the framed packet header.
	HeaderSize = 20

	// Magic is the packet signature carried in the first header word.
	Magic = 0x75BD7E97

	// MaxPacketSize is the sanity ceiling on the header's total-size field.
	MaxPacketSize = 65536

	// FiringSize is the encoded length of one firing record: position and
	// pad words, then per return a distance block and an intensity block.
	FiringSize = 4 + sensor.NumReturns*(sensor.NumLasers*4+sensor.NumLasers)

	// MSeriesPayloadSize is the data payload length: the firing records
	// followed by the packet-wide status word.
	MSeriesPayloadSize = sensor.FiringsPerPacket*FiringSize + 2

	// MSeriesPacketSize is the full framed packet length.
	MSeriesPacketSize = HeaderSize + MSeriesPayloadSize

	// LegacyPacketSize is the fixed length of a header-less M8 packet: the
	// firing records plus the trailing seconds/nanoseconds/version/status
	// suffix.
	LegacyPacketSize = sensor.FiringsPerPacket*FiringSize + 12
)

// Packet types carried in the framed header.
const (
	PacketTypeMSeries00 = 0x00
	PacketTypeMSeries01 = 0x01
)

// PacketHeader is the fixed 20-byte header preceding framed payloads.
type PacketHeader struct {
	Signature   uint32
	Size        uint32 // total packet length including the header
	PacketType  uint16
	Version     uint16
	Seconds     uint32
	Nanoseconds uint32
}

// ParseHeader decodes a framed header from the front of buf.
func ParseHeader(buf []byte) (PacketHeader, error) {
	if len(buf) < HeaderSize {
		return PacketHeader{}, fmt.Errorf("%w: need %d header bytes, have %d", sensor.ErrMalformedPacket, HeaderSize, len(buf))
	}
	return PacketHeader{
		Signature:   binary.BigEndian.Uint32(buf[0:4]),
		Size:        binary.BigEndian.Uint32(buf[4:8]),
		PacketType:  binary.BigEndian.Uint16(buf[8:10]),
		Version:     binary.BigEndian.Uint16(buf[10:12]),
		Seconds:     binary.BigEndian.Uint32(buf[12:16]),
		Nanoseconds: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// Valid reports whether the header carries the expected signature and a
// sane total size.
func (h PacketHeader) Valid() bool {
	return h.Signature == Magic && h.Size >= HeaderSize && h.Size <= MaxPacketSize
}

// Return holds one echo index's measurements for every beam of a firing.
type Return struct {
	Distances   [sensor.NumLasers]uint32
	Intensities [sensor.NumLasers]uint8
}

// Firing is one rotational sample: an encoder position and three returns
// per beam.
type Firing struct {
	Position uint16
	Returns  [sensor.NumReturns]Return
}

// DataPacket is a fully decoded data packet, independent of whether it
// arrived framed or as a legacy header-less buffer.
type DataPacket struct {
	Seconds     uint32
	Nanoseconds uint32
	Version     uint16
	Status      sensor.StatusFlags
	Firings     [sensor.FiringsPerPacket]Firing
}

// StampMicros returns the packet timestamp in microseconds. API versions
// 1 through 3 carried tens-of-nanoseconds in the subsecond field; later
// versions carry nanoseconds.
func (p *DataPacket) StampMicros() uint64 {
	if p.Version != 0 && p.Version <= 3 {
		return uint64(p.Seconds)*1_000_000 + uint64(p.Nanoseconds)/100
	}
	return uint64(p.Seconds)*1_000_000 + uint64(p.Nanoseconds)/1000
}

// LegacyStampMicros is the timestamp rule for header-less M8 packets,
// where version 0 also used tens-of-nanoseconds.
func (p *DataPacket) LegacyStampMicros() uint64 {
	if p.Version <= 3 {
		return uint64(p.Seconds)*1_000_000 + uint64(p.Nanoseconds)/100
	}
	return uint64(p.Seconds)*1_000_000 + uint64(p.Nanoseconds)/1000
}

// DistanceScaling returns meters per raw distance unit for the packet's
// API version.
func (p *DataPacket) DistanceScaling() float64 {
	if p.Version >= 5 {
		return 0.00001
	}
	return 0.01
}

func decodeFiring(buf []byte) Firing {
	var f Firing
	f.Position = binary.BigEndian.Uint16(buf[0:2])
	// buf[2:4] is pad
	off := 4
	for r := 0; r < sensor.NumReturns; r++ {
		for j := 0; j < sensor.NumLasers; j++ {
			f.Returns[r].Distances[j] = binary.BigEndian.Uint32(buf[off : off+4])
			off += 4
		}
		for j := 0; j < sensor.NumLasers; j++ {
			f.Returns[r].Intensities[j] = buf[off]
			off++
		}
	}
	return f
}

// DecodeMSeriesPacket decodes a framed M-series data packet. The buffer
// must contain the header and the complete payload.
func DecodeMSeriesPacket(buf []byte) (*DataPacket, error) {
	hdr, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if !hdr.Valid() {
		return nil, fmt.Errorf("%w: bad signature 0x%08x or size %d", sensor.ErrMalformedPacket, hdr.Signature, hdr.Size)
	}
	if len(buf) < MSeriesPacketSize {
		return nil, fmt.Errorf("%w: M-series packet needs %d bytes, have %d", sensor.ErrMalformedPacket, MSeriesPacketSize, len(buf))
	}

	pkt := &DataPacket{
		Seconds:     hdr.Seconds,
		Nanoseconds: hdr.Nanoseconds,
		Version:     hdr.Version,
	}
	payload := buf[HeaderSize:]
	for i := 0; i < sensor.FiringsPerPacket; i++ {
		pkt.Firings[i] = decodeFiring(payload[i*FiringSize:])
	}
	pkt.Status = sensor.StatusFlags(binary.BigEndian.Uint16(payload[sensor.FiringsPerPacket*FiringSize:]))
	return pkt, nil
}

// DecodeLegacyPacket decodes a header-less M8 packet. The timing and
// status words trail the firing records.
func DecodeLegacyPacket(buf []byte) (*DataPacket, error) {
	if len(buf) < LegacyPacketSize {
		return nil, fmt.Errorf("%w: legacy packet needs %d bytes, have %d", sensor.ErrMalformedPacket, LegacyPacketSize, len(buf))
	}

	pkt := &DataPacket{}
	for i := 0; i < sensor.FiringsPerPacket; i++ {
		pkt.Firings[i] = decodeFiring(buf[i*FiringSize:])
	}
	tail := buf[sensor.FiringsPerPacket*FiringSize:]
	pkt.Seconds = binary.BigEndian.Uint32(tail[0:4])
	pkt.Nanoseconds = binary.BigEndian.Uint32(tail[4:8])
	pkt.Version = binary.BigEndian.Uint16(tail[8:10])
	pkt.Status = sensor.StatusFlags(binary.BigEndian.Uint16(tail[10:12]))
	return pkt, nil
}
