package robothand

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// ObjectDepth is one per-box depth record from the depth collaborator.
// Records come back in the same order as the submitted boxes.
type ObjectDepth struct {
	BBox            [4]int  `json:"bbox"`
	DepthMeters     float64 `json:"depth_meters"`
	DepthCM         float64 `json:"depth_cm"`
	DepthMeanMeters float64 `json:"depth_mean_meters"`
	DepthMinMeters  float64 `json:"depth_min_meters"`
}

type depthRequest struct {
	Command       string   `json:"command"`
	ImagePath     string   `json:"image_path,omitempty"`
	BoundingBoxes [][4]int `json:"bounding_boxes,omitempty"`
}

type depthResponse struct {
	Status        string        `json:"status"`
	Error         string        `json:"error,omitempty"`
	FocalLengthPX float64       `json:"focal_length_px,omitempty"`
	DepthMapShape []int         `json:"depth_map_shape,omitempty"`
	Objects       []ObjectDepth `json:"objects,omitempty"`
}

// DepthClient talks to the long-lived depth-estimation collaborator.
type DepthClient struct {
	client *lineClient
	logger logging.Logger
}

// NewDepthClient starts the collaborator process and verifies liveness with
// a ping before anyone depends on it.
func NewDepthClient(ctx context.Context, command []string, logger logging.Logger) (*DepthClient, error) {
	lc, err := startLineClient(ctx, "depth", command, logger)
	if err != nil {
		return nil, err
	}
	c := &DepthClient{client: lc, logger: logger}
	if err := c.Ping(ctx); err != nil {
		utils.UncheckedError(c.Close())
		return nil, err
	}
	logger.Info("depth collaborator ready")
	return c, nil
}

func (c *DepthClient) Ping(ctx context.Context) error {
	var resp depthResponse
	if err := c.client.roundTrip(ctx, depthRequest{Command: "ping"}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return &CollaboratorError{Name: "depth", Err: errors.Errorf("ping status %q", resp.Status)}
	}
	return nil
}

// ProcessImage returns depth records for the detections in the saved frame.
func (c *DepthClient) ProcessImage(ctx context.Context, imagePath string, objects []DetectedObject) ([]ObjectDepth, error) {
	return c.processImage(ctx, imagePath, objects, false)
}

// ProcessImageWithCleanup additionally removes the frame file once the
// collaborator has answered.
func (c *DepthClient) ProcessImageWithCleanup(ctx context.Context, imagePath string, objects []DetectedObject) ([]ObjectDepth, error) {
	return c.processImage(ctx, imagePath, objects, true)
}

func (c *DepthClient) processImage(ctx context.Context, imagePath string, objects []DetectedObject, cleanup bool) ([]ObjectDepth, error) {
	boxes := make([][4]int, len(objects))
	for i, obj := range objects {
		boxes[i] = [4]int{obj.Box.X, obj.Box.Y, obj.Box.Width, obj.Box.Height}
	}

	var resp depthResponse
	err := c.client.roundTrip(ctx, depthRequest{
		Command:       "process",
		ImagePath:     imagePath,
		BoundingBoxes: boxes,
	}, &resp)

	if cleanup {
		if rmErr := os.Remove(imagePath); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Warnf("removing frame %s: %v", imagePath, rmErr)
		}
	}

	if err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, &CollaboratorError{Name: "depth", Err: errors.Errorf("process status %q: %s", resp.Status, resp.Error)}
	}
	return resp.Objects, nil
}

func (c *DepthClient) Close() error {
	return c.client.close([]byte(`{"command":"exit"}`))
}
