package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := []RawSample{
		{SensorID: 1, Quaternion: [4]float64{1, 0, 0, 0}, Accel: [3]float64{0, 9.81, 0}, Gyro: [3]float64{0.1, -0.2, 0.3}, Valid: true},
		{SensorID: 2, Quaternion: [4]float64{0.707, 0, 0.707, 0}, Accel: [3]float64{1, 2, 3}, Gyro: [3]float64{0, 0, 0}, Valid: false},
	}

	packet, err := Encode(42, 123456, samples)
	require.NoError(t, err)

	decoded, err := Decode(packet)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	for i, want := range samples {
		got := decoded[i]
		assert.Equal(t, want.SensorID, got.SensorID)
		assert.Equal(t, uint32(42), got.FrameNumber)
		assert.Equal(t, uint32(123456), got.TimestampUs)
		assert.Equal(t, want.Valid, got.Valid)
		for c := 0; c < 4; c++ {
			assert.InDelta(t, want.Quaternion[c], got.Quaternion[c], 1e-4)
		}
		for c := 0; c < 3; c++ {
			assert.InDelta(t, want.Accel[c], got.Accel[c], 1e-2)
			assert.InDelta(t, want.Gyro[c], got.Gyro[c], 1e-3)
		}
	}
}

func TestDecodeRejectsWrongPacketType(t *testing.T) {
	packet, err := Encode(1, 1, []RawSample{{SensorID: 1}})
	require.NoError(t, err)
	packet[0] = 0x99

	_, err = Decode(packet)
	assert.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	packet, err := Encode(1, 1, []RawSample{{SensorID: 1}, {SensorID: 2}})
	require.NoError(t, err)

	truncated := packet[:len(packet)-1]
	_, err = Decode(truncated)
	assert.Error(t, err)
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{packetType, 0, 0})
	assert.Error(t, err)
}

func TestRawSampleFiniteDetectsInf(t *testing.T) {
	s := RawSample{Quaternion: [4]float64{1, 0, 0, 0}}
	assert.True(t, s.Finite())

	bad := RawSample{Accel: [3]float64{0, 0, 0}, Quaternion: [4]float64{1, 0, 0, 0}}
	bad.Gyro[0] = 1.0 / zero()
	assert.False(t, bad.Finite())
}

func zero() float64 { return 0 }
