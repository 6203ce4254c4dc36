package robothand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// centeredLandmarks returns a full landmark set with every point at the
// frame center.
func centeredLandmarks() []float64 {
	landmarks := make([]float64, handLandmarkCount*3)
	for i := 0; i < handLandmarkCount; i++ {
		landmarks[i*3] = 0.5
		landmarks[i*3+1] = 0.5
		landmarks[i*3+2] = 0
	}
	return landmarks
}

func TestHandPoseFromLandmarksTooShort(t *testing.T) {
	_, ok := HandPoseFromLandmarks(make([]float64, handLandmarkCount*3-1), 40, 640, 480)
	assert.False(t, ok)

	_, ok = HandPoseFromLandmarks(nil, 40, 640, 480)
	assert.False(t, ok)
}

func TestHandPoseFromLandmarksCentered(t *testing.T) {
	pose, ok := HandPoseFromLandmarks(centeredLandmarks(), 40, 640, 480)
	require.True(t, ok)

	assert.InDelta(t, 0, pose.WristPosition.X, 1e-9)
	assert.InDelta(t, 0, pose.WristPosition.Y, 1e-9)
	assert.InDelta(t, 40, pose.WristPosition.Z, 1e-9)

	assert.InDelta(t, 0, pose.PalmCenter.X, 1e-9)
	assert.InDelta(t, 40, pose.PalmCenter.Z, 1e-9)

	require.Len(t, pose.FingerTips, 5)
	for _, tip := range pose.FingerTips {
		assert.InDelta(t, 40, tip.Z, 1e-9)
	}

	// Fingertips on top of their bases read as a closed hand.
	assert.False(t, pose.IsOpen)
	assert.InDelta(t, 0.8, pose.Confidence, 1e-9)
}

func TestHandPoseFromLandmarksOpenHand(t *testing.T) {
	landmarks := centeredLandmarks()
	for _, tip := range []int{4, 8, 12, 16, 20} {
		landmarks[tip*3] += 0.2
	}

	pose, ok := HandPoseFromLandmarks(landmarks, 40, 640, 480)
	require.True(t, ok)
	assert.True(t, pose.IsOpen)
}

func TestHandPoseFromLandmarksDefaultDepth(t *testing.T) {
	pose, ok := HandPoseFromLandmarks(centeredLandmarks(), 0, 640, 480)
	require.True(t, ok)
	assert.InDelta(t, defaultHandDepthCM, pose.WristPosition.Z, 1e-9)
}

func TestLandmarkToCameraSpace(t *testing.T) {
	// Three quarters across a 60 degree frame is 15 degrees off axis.
	p := landmarkToCameraSpace(0.75, 0.5, 0, 30, 640, 480)
	assert.InDelta(t, 8.0385, p.X, 0.01)
	assert.InDelta(t, 0, p.Y, 1e-9)
	assert.InDelta(t, 30, p.Z, 1e-9)

	// Relative z shifts the depth by a meter per unit.
	p = landmarkToCameraSpace(0.5, 0.5, 0.1, 30, 640, 480)
	assert.InDelta(t, 40, p.Z, 1e-9)
	assert.InDelta(t, 0, p.X, 1e-9)

	// Image y grows downward, camera y grows upward.
	p = landmarkToCameraSpace(0.5, 0.25, 0, 30, 640, 480)
	assert.Positive(t, p.Y)
}

func TestMockHandPoseEstimator(t *testing.T) {
	estimator := NewMockHandPoseEstimator()
	ctx := context.Background()

	hands, err := estimator.DetectHands(ctx, "frame.jpg", 30)
	require.NoError(t, err)
	assert.Empty(t, hands)
	assert.Equal(t, 1, estimator.Calls())

	estimator.AddPose(HandPose{IsOpen: true, Confidence: 0.9})
	hands, err = estimator.DetectHands(ctx, "frame.jpg", 30)
	require.NoError(t, err)
	require.Len(t, hands, 1)
	assert.True(t, hands[0].IsOpen)
	assert.Equal(t, 2, estimator.Calls())
}
