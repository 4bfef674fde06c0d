package network

import (
	"sync"
	"time"

	"github.com/locusrobotics/quanergy-client/internal/monitoring"
)

// PacketStats tracks stream counters with thread-safe operations.
type PacketStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	unknownCount   int64
	cloudCount     int64
	reconnectCount int64
	lastReset      time.Time
}

// NewPacketStats creates a new PacketStats instance.
func NewPacketStats() *PacketStats {
	return &PacketStats{lastReset: time.Now()}
}

// AddPacket increments packet count and byte count.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddUnknown increments the unmatched-packet count.
func (ps *PacketStats) AddUnknown() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.unknownCount++
}

// AddCloud increments the emitted-cloud count.
func (ps *PacketStats) AddCloud() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cloudCount++
}

// AddReconnect increments the reconnect count.
func (ps *PacketStats) AddReconnect() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.reconnectCount++
}

// GetAndReset returns current stats and resets the counters.
func (ps *PacketStats) GetAndReset() (packets, bytes, unknown, clouds, reconnects int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	unknown = ps.unknownCount
	clouds = ps.cloudCount
	reconnects = ps.reconnectCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.unknownCount = 0
	ps.cloudCount = 0
	ps.reconnectCount = 0
	ps.lastReset = now

	return
}

// LogStats logs the interval counters and resets them.
func (ps *PacketStats) LogStats() {
	packets, bytes, unknown, clouds, reconnects, duration := ps.GetAndReset()
	if packets == 0 && unknown == 0 && reconnects == 0 {
		return
	}
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	monitoring.Logf("Stream stats (/sec): %.2f MB, %.1f packets, %.2f clouds; unknown=%d reconnects=%d",
		float64(bytes)/secs/(1024*1024), float64(packets)/secs, float64(clouds)/secs, unknown, reconnects)
}
