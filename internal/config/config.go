// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDServer  string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string

	// Topics
	TopicSyncFrame  string
	TopicOrientation string
	TopicJointAngles string
	TopicCalibration string
	TopicControl     string

	// Transport
	SerialPort string
	BaudRate   int

	// Sensors: a comma-separated "id:segment[:mag]" list, e.g.
	// "1:pelvis:mag,2:thigh_l,3:thigh_r". Parsed by internal/session's
	// caller, kept as a raw string here the same way the teacher keeps
	// RegisterDebugAllowedRanges as an unparsed range string.
	Sensors  string
	SampleHz float64

	// Jitter buffer
	BufferDelayMS           int
	ResetBackwardThreshold  int

	// Sync frame assembler
	TimestampToleranceUs int
	SlotTimeoutMS        int

	// Fusion
	RestThrAccel     float64
	RestThrGyro      float64
	ExtAccelTol      float64
	RestGain         float64
	MotionGain       float64
	MotionThr        float64
	BiasAlpha        float64

	// Magnetometer calibration
	MagCalMinSamples        int
	MagCalMinSphereCoverage float64
	MagCalMaxResidual       float64

	// Magnetic disturbance
	LocalMagExpectedUT float64
	LocalMagDipDeg     float64

	// Web server
	WebServerPort int

	// Calibration output
	CalibrationOutputDir string
}

// Package-level unexported variables for singleton pattern, exactly the
// shape the teacher uses: globalConfig is unexported so callers outside
// this package must go through Get(); configOnce guards single
// initialization; configMu serializes the write against concurrent reads.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with the pipeline's documented
// defaults (spec.md §4.2-§4.4), so a config file only needs to override
// what differs from the baseline deployment.
func Defaults() *Config {
	return &Config{
		SampleHz:                100,
		BufferDelayMS:           40,
		ResetBackwardThreshold:  500,
		TimestampToleranceUs:    100,
		SlotTimeoutMS:           50,
		RestThrAccel:            0.2,
		RestThrGyro:             0.03,
		ExtAccelTol:             0.15,
		RestGain:                0.05,
		MotionGain:              0.005,
		MotionThr:               0.1,
		BiasAlpha:               0.05,
		MagCalMinSamples:        200,
		MagCalMinSphereCoverage: 0.6,
		MagCalMaxResidual:       5,
		LocalMagExpectedUT:      50,
		LocalMagDipDeg:          60,
		WebServerPort:           8080,
		BaudRate:                115200,
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_SERVER":
		c.MQTTClientIDServer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_SYNC_FRAME":
		c.TopicSyncFrame = value
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value
	case "TOPIC_JOINT_ANGLES":
		c.TopicJointAngles = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value
	case "TOPIC_CONTROL":
		c.TopicControl = value

	// Transport
	case "SERIAL_PORT":
		c.SerialPort = value
	case "BAUD_RATE":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid BAUD_RATE %q: %w", value, err)
		}
		c.BaudRate = v

	// Sensors
	case "SENSORS":
		c.Sensors = value
	case "SAMPLE_HZ":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_HZ %q: %w", value, err)
		}
		if v <= 0 {
			return fmt.Errorf("SAMPLE_HZ must be positive, got %v", v)
		}
		c.SampleHz = v

	// Jitter buffer
	case "BUFFER_DELAY_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid BUFFER_DELAY_MS %q: %w", value, err)
		}
		c.BufferDelayMS = v
	case "RESET_BACKWARD_THRESHOLD":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid RESET_BACKWARD_THRESHOLD %q: %w", value, err)
		}
		c.ResetBackwardThreshold = v

	// Sync frame assembler
	case "TIMESTAMP_TOLERANCE_US":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TIMESTAMP_TOLERANCE_US %q: %w", value, err)
		}
		c.TimestampToleranceUs = v
	case "SLOT_TIMEOUT_MS":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SLOT_TIMEOUT_MS %q: %w", value, err)
		}
		c.SlotTimeoutMS = v

	// Fusion
	case "REST_THR_ACCEL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid REST_THR_ACCEL %q: %w", value, err)
		}
		c.RestThrAccel = v
	case "REST_THR_GYRO":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid REST_THR_GYRO %q: %w", value, err)
		}
		c.RestThrGyro = v
	case "EXT_ACCEL_TOL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid EXT_ACCEL_TOL %q: %w", value, err)
		}
		c.ExtAccelTol = v
	case "REST_GAIN":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid REST_GAIN %q: %w", value, err)
		}
		c.RestGain = v
	case "MOTION_GAIN":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MOTION_GAIN %q: %w", value, err)
		}
		c.MotionGain = v
	case "MOTION_THR":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MOTION_THR %q: %w", value, err)
		}
		c.MotionThr = v
	case "BIAS_ALPHA":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid BIAS_ALPHA %q: %w", value, err)
		}
		c.BiasAlpha = v

	// Magnetometer calibration
	case "MAGCAL_MIN_SAMPLES":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAGCAL_MIN_SAMPLES %q: %w", value, err)
		}
		c.MagCalMinSamples = v
	case "MAGCAL_MIN_SPHERE_COVERAGE":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MAGCAL_MIN_SPHERE_COVERAGE %q: %w", value, err)
		}
		c.MagCalMinSphereCoverage = v
	case "MAGCAL_MAX_RESIDUAL":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MAGCAL_MAX_RESIDUAL %q: %w", value, err)
		}
		c.MagCalMaxResidual = v

	// Magnetic disturbance
	case "LOCAL_MAG_EXPECTED_UT":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid LOCAL_MAG_EXPECTED_UT %q: %w", value, err)
		}
		c.LocalMagExpectedUT = v
	case "LOCAL_MAG_DIP_DEG":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid LOCAL_MAG_DIP_DEG %q: %w", value, err)
		}
		c.LocalMagDipDeg = v

	// Web server
	case "WEB_SERVER_PORT":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = v

	// Calibration output
	case "CALIBRATION_OUTPUT_DIR":
		c.CalibrationOutputDir = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.Sensors == "" {
		return fmt.Errorf("SENSORS is required")
	}
	if c.SampleHz <= 0 {
		return fmt.Errorf("SAMPLE_HZ must be positive")
	}
	if c.BufferDelayMS <= 0 {
		fmt.Printf("WARNING: BUFFER_DELAY_MS=%dms is unusually low\n", c.BufferDelayMS)
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Uses
// sync.Once so repeated calls (e.g. from multiple cmd/ entry points
// sharing this package) are idempotent after the first.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this returns nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
