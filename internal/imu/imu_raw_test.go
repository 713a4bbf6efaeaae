package imu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danstonedev/MASH-sub003/internal/skeleton"
)

func TestParseSensorsBasic(t *testing.T) {
	got, err := ParseSensors("1:pelvis:mag,2:thigh_l,3:thigh_r")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, uint8(1), got[0].SensorID)
	assert.Equal(t, skeleton.SegmentPelvis, got[0].Segment)
	assert.True(t, got[0].HasMag)

	assert.Equal(t, uint8(2), got[1].SensorID)
	assert.Equal(t, skeleton.SegmentThighL, got[1].Segment)
	assert.False(t, got[1].HasMag)
}

func TestParseSensorsTrimsWhitespaceAndSkipsEmptyEntries(t *testing.T) {
	got, err := ParseSensors(" 1:pelvis , , 2:thigh_l:mag ")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, skeleton.SegmentThighL, got[1].Segment)
	assert.True(t, got[1].HasMag)
}

func TestParseSensorsRejectsBadSensorID(t *testing.T) {
	_, err := ParseSensors("notanumber:pelvis")
	assert.Error(t, err)
}

func TestParseSensorsRejectsBadFieldCount(t *testing.T) {
	_, err := ParseSensors("1")
	assert.Error(t, err)

	_, err = ParseSensors("1:pelvis:mag:extra")
	assert.Error(t, err)
}

func TestParseSensorsRejectsBadThirdField(t *testing.T) {
	_, err := ParseSensors("1:pelvis:notmag")
	assert.Error(t, err)
}

func TestParseSensorsRejectsEmptySpec(t *testing.T) {
	_, err := ParseSensors("")
	assert.Error(t, err)
}
