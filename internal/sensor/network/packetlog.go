package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/wire"
)

// Raw packet log: a concatenation of length-prefixed records, each one
// complete packet buffer exactly as read from the stream. The format
// exists so captured sessions can be replayed through the same pipeline.

// maxLogRecordSize bounds a record length read from a log so a corrupt
// prefix cannot trigger a huge allocation.
const maxLogRecordSize = wire.MaxPacketSize

// PacketLogWriter appends packet records to an underlying writer.
type PacketLogWriter struct {
	w io.Writer
}

// NewPacketLogWriter wraps w for packet-record output.
func NewPacketLogWriter(w io.Writer) *PacketLogWriter {
	return &PacketLogWriter{w: w}
}

// WritePacket appends one record.
func (lw *PacketLogWriter) WritePacket(buf []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(buf)))
	if _, err := lw.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write record prefix: %w", err)
	}
	if _, err := lw.w.Write(buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// PacketLogReader reads packet records sequentially.
type PacketLogReader struct {
	r io.Reader
}

// NewPacketLogReader wraps r for packet-record input.
func NewPacketLogReader(r io.Reader) *PacketLogReader {
	return &PacketLogReader{r: r}
}

// Next returns the next record, or io.EOF at the end of the log.
func (lr *PacketLogReader) Next() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(lr.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record prefix: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > maxLogRecordSize {
		return nil, fmt.Errorf("%w: implausible log record size %d", sensor.ErrMalformedPacket, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(lr.r, buf); err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return buf, nil
}

// ReplayPacketLog pushes every record of a packet log into sink, stopping
// on context cancellation or the end of the log.
func ReplayPacketLog(ctx context.Context, r io.Reader, sink func([]byte)) error {
	lr := NewPacketLogReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sink(buf)
	}
}
