package robothand

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Assumed hand distance when no depth measurement is available.
const defaultHandDepthCM = 30.0

// handLandmarkCount is the standard 21-point hand landmark layout.
const handLandmarkCount = 21

// HandPose is an observed human hand in camera space, centimeters.
type HandPose struct {
	PalmCenter    Position3D   `json:"palm_center"`
	WristPosition Position3D   `json:"wrist_position"`
	FingerTips    []Position3D `json:"finger_tips"`
	IsOpen        bool         `json:"is_open"`
	Confidence    float64      `json:"confidence"`
}

// HandPoseEstimator finds hands in a saved frame. depthCM hints the hand's
// distance from the camera; pass 0 when unknown.
type HandPoseEstimator interface {
	DetectHands(ctx context.Context, imagePath string, depthCM float64) ([]HandPose, error)
}

// HandPoseFromLandmarks converts one flat 21-point landmark set (normalized
// x, y, relative z triples) into a HandPose. The palm center is the mean of
// the wrist and finger base landmarks; the hand counts as open when at
// least three fingertips sit far from their bases.
func HandPoseFromLandmarks(landmarks []float64, depthCM float64, frameWidth, frameHeight int) (HandPose, bool) {
	if len(landmarks) < handLandmarkCount*3 {
		return HandPose{}, false
	}
	if depthCM <= 0 {
		depthCM = defaultHandDepthCM
	}

	wrist := landmarkToCameraSpace(landmarks[0], landmarks[1], landmarks[2], depthCM, frameWidth, frameHeight)

	palmIndices := []int{0, 5, 9, 13, 17}
	var px, py, pz float64
	for _, idx := range palmIndices {
		px += landmarks[idx*3]
		py += landmarks[idx*3+1]
		pz += landmarks[idx*3+2]
	}
	n := float64(len(palmIndices))
	palm := landmarkToCameraSpace(px/n, py/n, pz/n, depthCM, frameWidth, frameHeight)

	tipIndices := []int{4, 8, 12, 16, 20}
	tips := make([]Position3D, 0, len(tipIndices))
	for _, idx := range tipIndices {
		tips = append(tips, landmarkToCameraSpace(
			landmarks[idx*3], landmarks[idx*3+1], landmarks[idx*3+2],
			depthCM, frameWidth, frameHeight,
		))
	}

	return HandPose{
		PalmCenter:    palm,
		WristPosition: wrist,
		FingerTips:    tips,
		IsOpen:        handIsOpen(landmarks),
		Confidence:    0.8,
	}, true
}

// landmarkToCameraSpace projects a normalized landmark into camera-frame
// centimeters using the pinhole angle per pixel.
func landmarkToCameraSpace(xNorm, yNorm, zRel, depthCM float64, frameWidth, frameHeight int) Position3D {
	pixelX := xNorm * float64(frameWidth)
	pixelY := yNorm * float64(frameHeight)
	zCM := depthCM + zRel*100

	offsetX := pixelX - float64(frameWidth)/2
	offsetY := pixelY - float64(frameHeight)/2

	anglePerPixelH := DefaultHorizontalFOV / float64(frameWidth)
	anglePerPixelV := DefaultVerticalFOV / float64(frameHeight)

	angleX := offsetX * anglePerPixelH
	angleY := -offsetY * anglePerPixelV

	return Position3D{
		X: zCM * math.Tan(angleX*math.Pi/180),
		Y: zCM * math.Tan(angleY*math.Pi/180),
		Z: zCM,
	}
}

// handIsOpen counts fingertips far from their finger bases in normalized
// landmark space.
func handIsOpen(landmarks []float64) bool {
	tipIndices := []int{4, 8, 12, 16, 20}
	baseIndices := []int{2, 5, 9, 13, 17}

	open := 0
	for i := range tipIndices {
		t := tipIndices[i] * 3
		b := baseIndices[i] * 3
		dx := landmarks[t] - landmarks[b]
		dy := landmarks[t+1] - landmarks[b+1]
		dz := landmarks[t+2] - landmarks[b+2]
		if math.Sqrt(dx*dx+dy*dy+dz*dz) > 0.15 {
			open++
		}
	}
	return open >= 3
}

type poseRequest struct {
	Command   string  `json:"command"`
	ImagePath string  `json:"image_path,omitempty"`
	DepthCM   float64 `json:"depth_cm,omitempty"`
}

type poseResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Hands  [][]float64 `json:"hands,omitempty"`
}

// PoseClient talks to the hand-landmark collaborator and converts its
// landmark sets into camera-space poses.
type PoseClient struct {
	client      *lineClient
	frameWidth  int
	frameHeight int
	logger      logging.Logger
}

func NewPoseClient(ctx context.Context, command []string, frameWidth, frameHeight int, logger logging.Logger) (*PoseClient, error) {
	lc, err := startLineClient(ctx, "handpose", command, logger)
	if err != nil {
		return nil, err
	}
	c := &PoseClient{client: lc, frameWidth: frameWidth, frameHeight: frameHeight, logger: logger}

	var resp poseResponse
	if err := c.client.roundTrip(ctx, poseRequest{Command: "ping"}, &resp); err != nil {
		utils.UncheckedError(c.Close())
		return nil, err
	}
	if resp.Status != "ok" {
		utils.UncheckedError(c.Close())
		return nil, &CollaboratorError{Name: "handpose", Err: errors.Errorf("ping status %q", resp.Status)}
	}
	logger.Info("hand-pose collaborator ready")
	return c, nil
}

func (c *PoseClient) DetectHands(ctx context.Context, imagePath string, depthCM float64) ([]HandPose, error) {
	var resp poseResponse
	err := c.client.roundTrip(ctx, poseRequest{Command: "landmarks", ImagePath: imagePath, DepthCM: depthCM}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &CollaboratorError{Name: "handpose", Err: errors.Errorf("landmarks status %q: %s", resp.Status, resp.Error)}
	}

	poses := make([]HandPose, 0, len(resp.Hands))
	for _, landmarks := range resp.Hands {
		if pose, ok := HandPoseFromLandmarks(landmarks, depthCM, c.frameWidth, c.frameHeight); ok {
			poses = append(poses, pose)
		}
	}
	return poses, nil
}

func (c *PoseClient) Close() error {
	return c.client.close([]byte(`{"command":"exit"}`))
}

// MockHandPoseEstimator returns injected poses, for tests and mock mode.
type MockHandPoseEstimator struct {
	mu    sync.Mutex
	poses []HandPose
	calls int
}

func NewMockHandPoseEstimator() *MockHandPoseEstimator {
	return &MockHandPoseEstimator{}
}

func (m *MockHandPoseEstimator) AddPose(pose HandPose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poses = append(m.poses, pose)
}

func (m *MockHandPoseEstimator) DetectHands(ctx context.Context, imagePath string, depthCM float64) ([]HandPose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make([]HandPose, len(m.poses))
	copy(out, m.poses)
	return out, nil
}

// Calls reports how many times DetectHands ran.
func (m *MockHandPoseEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
