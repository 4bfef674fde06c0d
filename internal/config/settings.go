// Package config loads client settings from a JSON file. Fields omitted
// from the file keep the values already in the target config, so partial
// configs are safe; fields present in the file replace those values,
// including ones that came from CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/pipeline"
)

// Settings is the on-disk configuration schema. Pointer fields distinguish
// "unset" from explicit zero values.
type Settings struct {
	Host            *string  `json:"host,omitempty"`
	Port            *int     `json:"port,omitempty"`
	FrameID         *string  `json:"frame_id,omitempty"`
	ReturnSelection *string  `json:"return_selection,omitempty"` // "max", "first", "last", "all", or an index
	DegreesPerCloud *float64 `json:"degrees_per_cloud,omitempty"`
	MinCloudSize    *int     `json:"min_cloud_size,omitempty"`
	MaxCloudSize    *int     `json:"max_cloud_size,omitempty"`
	Sensor          *string  `json:"sensor,omitempty"` // "M8" or "MQ8"
	Failover        *bool    `json:"failover,omitempty"`
	ReadTimeout     *string  `json:"read_timeout,omitempty"` // duration string like "5s"
}

// Load reads and validates a settings file.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Validate checks field values without applying them.
func (s *Settings) Validate() error {
	if s.Port != nil && (*s.Port < 1 || *s.Port > 65535) {
		return fmt.Errorf("port out of range: %d", *s.Port)
	}
	if s.ReturnSelection != nil {
		if _, err := ParseReturnSelection(*s.ReturnSelection); err != nil {
			return err
		}
	}
	if s.Sensor != nil {
		if _, err := ParseSensor(*s.Sensor); err != nil {
			return err
		}
	}
	if s.ReadTimeout != nil && *s.ReadTimeout != "" {
		if _, err := time.ParseDuration(*s.ReadTimeout); err != nil {
			return fmt.Errorf("invalid read_timeout %q: %w", *s.ReadTimeout, err)
		}
	}
	return nil
}

// Apply overlays the settings onto a pipeline config.
func (s *Settings) Apply(cfg *pipeline.Config) error {
	if s.Host != nil {
		cfg.Network.Host = *s.Host
	}
	if s.Port != nil {
		cfg.Network.Port = *s.Port
	}
	if s.FrameID != nil {
		cfg.FrameID = *s.FrameID
	}
	if s.ReturnSelection != nil {
		selection, err := ParseReturnSelection(*s.ReturnSelection)
		if err != nil {
			return err
		}
		cfg.ReturnSelection = selection
	}
	if s.DegreesPerCloud != nil {
		cfg.DegreesPerCloud = *s.DegreesPerCloud
	}
	if s.MinCloudSize != nil {
		cfg.MinCloudSize = *s.MinCloudSize
	}
	if s.MaxCloudSize != nil {
		cfg.MaxCloudSize = *s.MaxCloudSize
	}
	if s.Sensor != nil {
		sensorType, err := ParseSensor(*s.Sensor)
		if err != nil {
			return err
		}
		cfg.Sensor = sensorType
	}
	if s.Failover != nil {
		cfg.Network.FailoverEnabled = *s.Failover
	}
	if s.ReadTimeout != nil && *s.ReadTimeout != "" {
		d, err := time.ParseDuration(*s.ReadTimeout)
		if err != nil {
			return err
		}
		cfg.Network.ReadTimeout = d
	}
	return nil
}

// ParseReturnSelection maps a settings string onto a return selection.
func ParseReturnSelection(v string) (int, error) {
	switch strings.ToLower(v) {
	case "all":
		return sensor.AllReturns, nil
	case "max", "0":
		return sensor.ReturnMax, nil
	case "first", "1":
		return sensor.ReturnFirst, nil
	case "last", "2":
		return sensor.ReturnLast, nil
	default:
		return 0, fmt.Errorf("%w: %q", sensor.ErrInvalidReturnSelection, v)
	}
}

// ParseSensor maps a settings string onto a sensor preset.
func ParseSensor(v string) (sensor.SensorType, error) {
	switch strings.ToUpper(v) {
	case "M8":
		return sensor.SensorM8, nil
	case "MQ8":
		return sensor.SensorMQ8, nil
	default:
		return 0, fmt.Errorf("unknown sensor type %q", v)
	}
}
