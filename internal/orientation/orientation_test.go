package orientation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danstonedev/MASH-sub003/internal/quat"
)

func TestFromQuaternionIdentityIsZeroPose(t *testing.T) {
	p := FromQuaternion(quat.Identity)
	assert.InDelta(t, 0.0, p.Roll, 1e-9)
	assert.InDelta(t, 0.0, p.Pitch, 1e-9)
	assert.InDelta(t, 0.0, p.Yaw, 1e-9)
}

func TestFromQuaternionPitchUp90(t *testing.T) {
	q := quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 0.5*3.14159265358979)
	p := FromQuaternion(q)
	assert.InDelta(t, 90.0, p.Pitch, 1e-3)
}

func TestFromQuaternionClampsNearGimbalLock(t *testing.T) {
	// A quaternion very close to pitch = +90 degrees should not panic or
	// return NaN from asin of an out-of-domain argument.
	q := quat.FromAxisAngle(quat.Vec3{X: 1, Y: 0, Z: 0}, 1.5707963267948966)
	p := FromQuaternion(q)
	assert.False(t, isNaN(p.Pitch))
	assert.InDelta(t, 90.0, p.Pitch, 1e-6)
}

func isNaN(v float64) bool { return v != v }
