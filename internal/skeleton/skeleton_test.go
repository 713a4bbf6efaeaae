package skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInRangeBounds(t *testing.T) {
	bounds := [2]float64{-20, 140}
	assert.True(t, InRange(-20, bounds))
	assert.True(t, InRange(140, bounds))
	assert.True(t, InRange(0, bounds))
	assert.False(t, InRange(-21, bounds))
	assert.False(t, InRange(141, bounds))
}

func TestJointsTableCoversExpectedJoints(t *testing.T) {
	for _, id := range []JointID{JointHipL, JointHipR, JointKneeL, JointKneeR, JointAnkleL, JointAnkleR, JointNeck} {
		spec, ok := Joints[id]
		assert.True(t, ok, "missing joint %s", id)
		assert.NotEqual(t, spec.Parent, spec.Child)
	}
}

func TestHipUsesZXYOrderMatchingAnkle(t *testing.T) {
	assert.Equal(t, Joints[JointHipL].Order, Joints[JointAnkleL].Order)
	assert.Equal(t, Joints[JointHipR].Order, Joints[JointAnkleR].Order)
}
