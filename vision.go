package robothand

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Camera field of view used for pixel-to-angle conversion when the
// configuration does not override it.
const (
	DefaultHorizontalFOV = 60.0
	DefaultVerticalFOV   = 45.0
)

// BoundingBox is an axis-aligned pixel-space box.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the box midpoint in pixels.
func (b BoundingBox) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Area returns the box area in square pixels.
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// DetectedObject is one detection from the object-detection collaborator.
type DetectedObject struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bounding_box"`
	Distance   float64     `json:"distance"`
}

// ObjectTrackingData is the per-cycle view of one tracked object:
// normalized position, size, rough depth, and angular offsets from the
// camera axis.
type ObjectTrackingData struct {
	Object             DetectedObject `json:"object"`
	CenterXNorm        float64        `json:"center_x_norm"`
	CenterYNorm        float64        `json:"center_y_norm"`
	WidthNorm          float64        `json:"width_norm"`
	HeightNorm         float64        `json:"height_norm"`
	AreaRatio          float64        `json:"area_ratio"`
	EstimatedDepthCM   float64        `json:"estimated_depth_cm"`
	HorizontalAngleDeg float64        `json:"horizontal_angle_deg"`
	VerticalAngleDeg   float64        `json:"vertical_angle_deg"`
	FrameWidth         int            `json:"frame_width"`
	FrameHeight        int            `json:"frame_height"`
	TimestampMS        int64          `json:"timestamp_ms"`
}

// ObjectDetector detects objects in a saved camera frame.
type ObjectDetector interface {
	DetectObjects(ctx context.Context, imagePath string) ([]DetectedObject, error)
	FrameSize() (width, height int)
}

// FrameSource saves the current camera frame to a caller-chosen path.
type FrameSource interface {
	SaveFrame(ctx context.Context, path string) error
}

// MockDetector returns injected detections, for tests and mock mode.
type MockDetector struct {
	mu          sync.Mutex
	frameWidth  int
	frameHeight int
	objects     []DetectedObject
	savedFrames []string
}

func NewMockDetector(frameWidth, frameHeight int) *MockDetector {
	return &MockDetector{frameWidth: frameWidth, frameHeight: frameHeight}
}

func (d *MockDetector) AddObject(obj DetectedObject) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = append(d.objects, obj)
}

func (d *MockDetector) ClearObjects() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = nil
}

func (d *MockDetector) DetectObjects(ctx context.Context, imagePath string) ([]DetectedObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DetectedObject, len(d.objects))
	copy(out, d.objects)
	return out, nil
}

func (d *MockDetector) FrameSize() (int, int) {
	return d.frameWidth, d.frameHeight
}

// SaveFrame records the requested path without touching the filesystem.
func (d *MockDetector) SaveFrame(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.savedFrames = append(d.savedFrames, path)
	return nil
}

// SavedFrames returns the paths passed to SaveFrame, oldest first.
func (d *MockDetector) SavedFrames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.savedFrames))
	copy(out, d.savedFrames)
	return out
}

// Weights for target selection: confidence dominates, centrality breaks
// ties between comparable detections.
const (
	selectionConfidenceWeight = 0.7
	selectionCentralityWeight = 0.3
)

// SelectBestObject picks the detection with the highest weighted score of
// confidence and centrality. Centrality is the distance from the box center
// to the frame center, normalized so a corner detection scores zero.
func SelectBestObject(objects []DetectedObject, frameWidth, frameHeight int) (DetectedObject, bool) {
	if len(objects) == 0 || frameWidth <= 0 || frameHeight <= 0 {
		return DetectedObject{}, false
	}

	best := 0
	bestScore := math.Inf(-1)
	for i, obj := range objects {
		score := selectionScore(obj, frameWidth, frameHeight)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return objects[best], true
}

func selectionScore(obj DetectedObject, frameWidth, frameHeight int) float64 {
	cx, cy := obj.Box.Center()
	dx := float64(cx)/float64(frameWidth) - 0.5
	dy := float64(cy)/float64(frameHeight) - 0.5
	centerDist := math.Hypot(dx, dy) / math.Hypot(0.5, 0.5)
	if centerDist > 1 {
		centerDist = 1
	}
	return selectionConfidenceWeight*obj.Confidence + selectionCentralityWeight*(1-centerDist)
}

// ClassifyObjectType folds a detector label into one of the grip-selection
// classes. Unrecognized labels fall through to small_object.
func ClassifyObjectType(label string) string {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "cup"), strings.Contains(lower, "mug"), strings.Contains(lower, "glass"):
		return "cup"
	case strings.Contains(lower, "bottle"):
		return "bottle"
	case strings.Contains(lower, "phone"), strings.Contains(lower, "cellphone"), strings.Contains(lower, "mobile"):
		return "phone"
	case strings.Contains(lower, "book"), strings.Contains(lower, "notebook"):
		return "book"
	case strings.Contains(lower, "pen"), strings.Contains(lower, "pencil"):
		return "pen"
	default:
		return "small_object"
	}
}

// typicalObjectHeightCM returns the assumed real-world height used by the
// pinhole depth estimate.
func typicalObjectHeightCM(label string) float64 {
	switch strings.ToLower(label) {
	case "bottle", "wine glass", "cup":
		return 20.0
	case "person":
		return 170.0
	case "cell phone", "remote", "mouse":
		return 15.0
	case "laptop", "keyboard":
		return 25.0
	case "book":
		return 25.0
	case "clock":
		return 30.0
	case "chair":
		return 90.0
	case "couch":
		return 80.0
	default:
		return 25.0
	}
}

// EstimateDepth guesses object distance in centimeters from its apparent
// height, assuming a focal length of 0.7 frame heights. Clamped to
// [10, 500] cm; a learned depth collaborator supersedes this when present.
func EstimateDepth(label string, boxHeight, frameHeight int) float64 {
	typical := typicalObjectHeightCM(label)
	focal := float64(frameHeight) * 0.7
	h := float64(boxHeight)
	if h < 1 {
		h = 1
	}
	return clamp(typical*focal/h, 10.0, 500.0)
}

// NewObjectTrackingData assembles the per-cycle tracking record for one
// detection.
func NewObjectTrackingData(object DetectedObject, frameWidth, frameHeight int) ObjectTrackingData {
	cx, cy := object.Box.Center()
	centerXNorm := float64(cx) / float64(frameWidth)
	centerYNorm := float64(cy) / float64(frameHeight)

	return ObjectTrackingData{
		Object:             object,
		CenterXNorm:        centerXNorm,
		CenterYNorm:        centerYNorm,
		WidthNorm:          float64(object.Box.Width) / float64(frameWidth),
		HeightNorm:         float64(object.Box.Height) / float64(frameHeight),
		AreaRatio:          float64(object.Box.Area()) / float64(frameWidth*frameHeight),
		EstimatedDepthCM:   EstimateDepth(object.Label, object.Box.Height, frameHeight),
		HorizontalAngleDeg: (centerXNorm - 0.5) * DefaultHorizontalFOV,
		VerticalAngleDeg:   (0.5 - centerYNorm) * DefaultVerticalFOV,
		FrameWidth:         frameWidth,
		FrameHeight:        frameHeight,
		TimestampMS:        time.Now().UnixMilli(),
	}
}

// ApplyNMS suppresses lower-confidence detections overlapping a kept one
// above the IoU threshold.
func ApplyNMS(candidates []DetectedObject, iouThreshold float64) []DetectedObject {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]DetectedObject, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]DetectedObject, 0, len(sorted))
	used := make([]bool, len(sorted))
	for i := range sorted {
		if used[i] {
			continue
		}
		kept = append(kept, sorted[i])
		used[i] = true
		for j := i + 1; j < len(sorted); j++ {
			if used[j] {
				continue
			}
			if intersectionOverUnion(sorted[i].Box, sorted[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}
	return kept
}

func intersectionOverUnion(a, b BoundingBox) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.Width, b.X+b.Width)
	y2 := min(a.Y+a.Height, b.Y+b.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	intersection := float64((x2 - x1) * (y2 - y1))
	union := float64(a.Area()) + float64(b.Area()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
