package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/locusrobotics/quanergy-client/internal/monitoring"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/convert"
	"github.com/locusrobotics/quanergy-client/internal/sensor/network"
	"github.com/locusrobotics/quanergy-client/internal/sensor/parse"
	"github.com/locusrobotics/quanergy-client/internal/sensor/signal"
)

// Config configures a sensor runtime.
type Config struct {
	Network network.Config

	// FrameID is stamped into every emitted cloud.
	FrameID string

	// ReturnSelection is sensor.AllReturns or a single return index.
	// The zero value selects the max return.
	ReturnSelection int

	// DegreesPerCloud is the sweep width per cloud; zero keeps the full
	// rotation default.
	DegreesPerCloud float64

	// MinCloudSize and MaxCloudSize bound emitted clouds; zero keeps the
	// parser defaults.
	MinCloudSize int
	MaxCloudSize int

	// Sensor selects the vertical-angle preset.
	Sensor sensor.SensorType

	// StatsInterval enables periodic stream statistics logging when
	// positive.
	StatsInterval time.Duration
}

// Runtime joins the pipeline stages. Packets flow from the client through
// the dispatcher's parsers; completed polar clouds feed the converter;
// subscribers receive Cartesian clouds.
type Runtime struct {
	cfg Config

	Client     *network.Client
	Dispatcher *parse.Dispatcher
	Converter  *convert.PolarToCartConverter
	Stats      *network.PacketStats

	handles []*signal.Handle

	mu    sync.Mutex
	fatal error
}

// New builds and wires a runtime. Configuration errors from the parser
// setters surface here, before any packet is read.
func New(cfg Config) (*Runtime, error) {
	parser00 := parse.NewDataParser00()
	parser01 := parse.NewDataParser01()
	failover := parse.NewFailoverParser()

	for _, p := range []*parse.MSeriesParser{parser00, parser01} {
		p.SetFrameID(cfg.FrameID)
		if err := p.SetReturnSelection(cfg.ReturnSelection); err != nil {
			return nil, err
		}
		if cfg.DegreesPerCloud != 0 {
			if err := p.SetDegreesPerCloud(cfg.DegreesPerCloud); err != nil {
				return nil, err
			}
		}
		if err := p.SetCloudSizeLimits(cfg.MinCloudSize, cfg.MaxCloudSize); err != nil {
			return nil, err
		}
		if err := p.SetVerticalAnglesForSensor(cfg.Sensor); err != nil {
			return nil, err
		}
	}
	failover.SetFrameID(cfg.FrameID)
	if err := failover.SetCloudSizeLimits(cfg.MinCloudSize, cfg.MaxCloudSize); err != nil {
		return nil, err
	}

	dispatcher, err := parse.NewDispatcher(parser00, parser01, failover)
	if err != nil {
		return nil, err
	}

	stats := network.NewPacketStats()
	dispatcher.SetStats(stats)

	netCfg := cfg.Network
	netCfg.Stats = stats

	r := &Runtime{
		cfg:        cfg,
		Client:     network.NewClient(netCfg),
		Dispatcher: dispatcher,
		Converter:  convert.NewPolarToCartConverter(),
		Stats:      stats,
	}

	r.handles = append(r.handles,
		r.Client.Subscribe(r.acceptPacket),
		r.Dispatcher.Subscribe(r.Converter.Slot),
	)
	return r, nil
}

// acceptPacket routes one raw buffer and classifies parse failures.
// Firmware errors stop the client; data oddities are logged and the
// stream continues.
func (r *Runtime) acceptPacket(buf []byte) {
	_, err := r.Dispatcher.Accept(buf)
	if err == nil {
		return
	}
	if errors.Is(err, sensor.ErrFirmwareVersionMismatch) || errors.Is(err, sensor.ErrFirmwareWatchdogViolation) {
		r.mu.Lock()
		if r.fatal == nil {
			r.fatal = err
		}
		r.mu.Unlock()
		r.Client.Stop()
		return
	}
	monitoring.Logf("Packet dropped: %v", err)
}

// Run drives the client read loop until Stop, cancellation, or a fatal
// firmware error.
func (r *Runtime) Run(ctx context.Context) error {
	if r.Stats != nil && r.cfg.StatsInterval > 0 {
		go r.statsLoop(ctx)
	}

	err := r.Client.Run(ctx)

	r.mu.Lock()
	fatal := r.fatal
	r.mu.Unlock()
	if fatal != nil {
		return fatal
	}
	return err
}

func (r *Runtime) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Stats.LogStats()
		}
	}
}

// Stop requests pipeline termination.
func (r *Runtime) Stop() { r.Client.Stop() }

// Subscribe registers a sink for Cartesian clouds.
func (r *Runtime) Subscribe(fn func(*sensor.CartesianCloud)) *signal.Handle {
	return r.Converter.Subscribe(fn)
}

// SubscribePolar registers a sink for polar clouds before conversion.
func (r *Runtime) SubscribePolar(fn func(*sensor.PolarCloud)) *signal.Handle {
	return r.Dispatcher.Subscribe(fn)
}

// Close releases the runtime's internal subscriptions.
func (r *Runtime) Close() {
	for _, h := range r.handles {
		h.Unsubscribe()
	}
	r.handles = nil
}
