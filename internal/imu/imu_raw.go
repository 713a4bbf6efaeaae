// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package imu parses the SENSORS config string into the per-sensor
// topology the session needs: which segment each sensor_id is mounted on
// and whether it carries a magnetometer. This replaces the teacher's
// IMURaw/IMURawSource pairing (a fixed left/right int16-triple reading),
// which assumed exactly two hardwired on-device IMUs; here the sensor set
// is stream-configured and arbitrary in size.
package imu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danstonedev/MASH-sub003/internal/session"
	"github.com/danstonedev/MASH-sub003/internal/skeleton"
)

// ParseSensors parses a comma-separated "id:segment[:mag]" list, e.g.
// "1:pelvis:mag,2:thigh_l,3:thigh_r", into session.SensorConfig entries.
func ParseSensors(spec string) ([]session.SensorConfig, error) {
	var out []session.SensorConfig
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("imu: invalid sensor entry %q, want id:segment[:mag]", entry)
		}
		id, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("imu: invalid sensor id in %q: %w", entry, err)
		}
		sc := session.SensorConfig{
			SensorID: uint8(id),
			Segment:  skeleton.SegmentID(fields[1]),
		}
		if len(fields) == 3 {
			if fields[2] != "mag" {
				return nil, fmt.Errorf("imu: invalid sensor entry %q, third field must be \"mag\"", entry)
			}
			sc.HasMag = true
		}
		out = append(out, sc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("imu: no sensors parsed from %q", spec)
	}
	return out, nil
}
