// Command mseries-cloud streams M-series sensor packets and prints a
// summary line per emitted Cartesian cloud. It is the reference wiring of
// the packet-to-cloud pipeline: stream client, packet dispatcher,
// versioned parsers, and the polar-to-Cartesian converter.
//
// Usage:
//
//	mseries-cloud --host 10.0.0.3 [--port 4141] [flags]
//
// A recorded packet log (--replay) or, in pcap-tagged builds, a PCAP file
// (--pcap) can substitute for a live sensor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/locusrobotics/quanergy-client/internal/config"
	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/network"
	"github.com/locusrobotics/quanergy-client/internal/sensor/pipeline"
)

var (
	host        = flag.String("host", "", "hostname or IP address of the sensor (required unless replaying)")
	port        = flag.Int("port", network.DefaultPort, "TCP port of the sensor data stream")
	frameID     = flag.String("frame-id", "quanergy", "frame identifier stamped into emitted clouds")
	returnSel   = flag.String("return", "max", "return selection: max, first, last, or all")
	degrees     = flag.Float64("degrees", 360.0, "degrees of sweep per cloud")
	minSize     = flag.Int("min-size", 0, "minimum cloud size (0 = default)")
	maxSize     = flag.Int("max-size", 0, "maximum cloud size (0 = default)")
	sensorName  = flag.String("sensor", "M8", "vertical angle preset: M8 or MQ8")
	failover    = flag.Bool("failover", true, "accept header-less legacy M8 packets")
	configPath  = flag.String("config", "", "optional JSON settings file")
	recordPath  = flag.String("record", "", "write received packets to a packet log")
	replayPath  = flag.String("replay", "", "replay packets from a packet log instead of connecting")
	pcapPath    = flag.String("pcap", "", "replay legacy packets from a PCAP file (requires -tags pcap)")
	pcapPort    = flag.Int("pcap-port", 4141, "UDP port filter for PCAP replay")
	logInterval = flag.Int("log-interval", 10, "statistics logging interval in seconds")
)

func main() {
	flag.Parse()

	cfg := pipeline.Config{
		Network: network.Config{
			Host:            *host,
			Port:            *port,
			FailoverEnabled: *failover,
		},
		FrameID:         *frameID,
		DegreesPerCloud: *degrees,
		MinCloudSize:    *minSize,
		MaxCloudSize:    *maxSize,
		StatsInterval:   time.Duration(*logInterval) * time.Second,
	}

	selection, err := config.ParseReturnSelection(*returnSel)
	if err != nil {
		log.Fatalf("Invalid --return: %v", err)
	}
	cfg.ReturnSelection = selection

	sensorType, err := config.ParseSensor(*sensorName)
	if err != nil {
		log.Fatalf("Invalid --sensor: %v", err)
	}
	cfg.Sensor = sensorType

	if *configPath != "" {
		settings, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := settings.Apply(&cfg); err != nil {
			log.Fatalf("Failed to apply config: %v", err)
		}
	}

	replaying := *replayPath != "" || *pcapPath != ""
	if cfg.Network.Host == "" && !replaying {
		fmt.Fprintln(os.Stderr, "usage: mseries-cloud --host <host> [--port <port>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	runtime, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	defer runtime.Close()

	cloudSub := runtime.Subscribe(func(cloud *sensor.CartesianCloud) {
		log.Printf("Cloud seq=%d stamp=%dus frame=%s points=%d dense=%v shape=%dx%d",
			cloud.Header.Seq, cloud.Header.Stamp, cloud.Header.FrameID,
			cloud.Size(), cloud.IsDense, cloud.Height, cloud.Width)
	})
	defer cloudSub.Unsubscribe()

	if *recordPath != "" {
		f, err := os.Create(*recordPath)
		if err != nil {
			log.Fatalf("Failed to create packet log: %v", err)
		}
		defer f.Close()
		writer := network.NewPacketLogWriter(f)
		recordSub := runtime.Client.Subscribe(func(buf []byte) {
			if err := writer.WritePacket(buf); err != nil {
				log.Printf("Packet log write failed: %v", err)
			}
		})
		defer recordSub.Unsubscribe()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *replayPath != "":
		f, err := os.Open(*replayPath)
		if err != nil {
			log.Fatalf("Failed to open packet log: %v", err)
		}
		defer f.Close()
		err = network.ReplayPacketLog(ctx, f, func(buf []byte) {
			if _, err := runtime.Dispatcher.Accept(buf); err != nil {
				log.Printf("Replay packet dropped: %v", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Fatalf("Replay failed: %v", err)
		}
	case *pcapPath != "":
		err := network.ReadPCAPFile(ctx, *pcapPath, *pcapPort, func(buf []byte) {
			if _, err := runtime.Dispatcher.Accept(buf); err != nil {
				log.Printf("PCAP packet dropped: %v", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Fatalf("PCAP replay failed: %v", err)
		}
	default:
		go func() {
			<-ctx.Done()
			runtime.Stop()
		}()
		if err := runtime.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Pipeline terminated: %v", err)
		}
	}
}
