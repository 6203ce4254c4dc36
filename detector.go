package robothand

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// FrameDir holds transient camera frames shared with collaborators.
const FrameDir = "temp"

type detectorRequest struct {
	Command   string `json:"command"`
	ImagePath string `json:"image_path,omitempty"`
	FramePath string `json:"frame_path,omitempty"`
}

type detectorResponse struct {
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	FrameWidth  int              `json:"frame_width,omitempty"`
	FrameHeight int              `json:"frame_height,omitempty"`
	Objects     []DetectedObject `json:"objects,omitempty"`
}

// DetectorClient talks to the object-detection collaborator, which owns the
// camera. It implements both ObjectDetector and FrameSource.
type DetectorClient struct {
	client      *lineClient
	frameWidth  int
	frameHeight int
	logger      logging.Logger
}

// NewDetectorClient starts the collaborator and asks it for the camera
// frame size, which doubles as the liveness check.
func NewDetectorClient(ctx context.Context, command []string, logger logging.Logger) (*DetectorClient, error) {
	lc, err := startLineClient(ctx, "detector", command, logger)
	if err != nil {
		return nil, err
	}
	c := &DetectorClient{client: lc, logger: logger}

	var resp detectorResponse
	if err := c.client.roundTrip(ctx, detectorRequest{Command: "ping"}, &resp); err != nil {
		utils.UncheckedError(c.Close())
		return nil, err
	}
	if resp.Status != "ok" {
		utils.UncheckedError(c.Close())
		return nil, &CollaboratorError{Name: "detector", Err: errors.Errorf("ping status %q", resp.Status)}
	}
	c.frameWidth = resp.FrameWidth
	c.frameHeight = resp.FrameHeight
	logger.Infof("detector collaborator ready, frame %dx%d", c.frameWidth, c.frameHeight)
	return c, nil
}

// DetectObjects runs detection against a saved frame.
func (c *DetectorClient) DetectObjects(ctx context.Context, imagePath string) ([]DetectedObject, error) {
	var resp detectorResponse
	err := c.client.roundTrip(ctx, detectorRequest{Command: "detect", ImagePath: imagePath}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &CollaboratorError{Name: "detector", Err: errors.Errorf("detect status %q: %s", resp.Status, resp.Error)}
	}
	return resp.Objects, nil
}

func (c *DetectorClient) FrameSize() (int, int) {
	return c.frameWidth, c.frameHeight
}

// SaveFrame asks the collaborator to persist its current camera frame to
// the given path.
func (c *DetectorClient) SaveFrame(ctx context.Context, path string) error {
	var resp detectorResponse
	err := c.client.roundTrip(ctx, detectorRequest{Command: "save_frame", FramePath: path}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return &CollaboratorError{Name: "detector", Err: errors.Errorf("save_frame status %q: %s", resp.Status, resp.Error)}
	}
	return nil
}

func (c *DetectorClient) Close() error {
	return c.client.close([]byte(`{"command":"exit"}`))
}

// EnsureFrameDir creates the transient frame directory.
func EnsureFrameDir() error {
	return os.MkdirAll(FrameDir, 0o755)
}

// CleanupFrameFiles removes leftover frame images from the frame directory.
func CleanupFrameFiles(logger logging.Logger) {
	entries, err := os.ReadDir(FrameDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("reading frame dir: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".jpg", ".jpeg", ".png":
			if err := os.Remove(filepath.Join(FrameDir, entry.Name())); err != nil {
				logger.Warnf("removing %s: %v", entry.Name(), err)
			}
		}
	}
}
