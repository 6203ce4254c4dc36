package robothand

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

// newPipedLineClient builds a lineClient over in-process pipes so framing can
// be exercised without a real subprocess. The returned scanner yields request
// lines as the client writes them; responses go in through the writer.
func newPipedLineClient(t *testing.T) (*lineClient, *bufio.Scanner, *io.PipeWriter) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	c := &lineClient{
		name:   "test",
		cmd:    &exec.Cmd{},
		stdin:  reqW,
		lines:  make(chan []byte, 1),
		logger: logging.NewTestLogger(t),
	}
	go c.readLines(respR)
	return c, bufio.NewScanner(reqR), respW
}

func TestLineClientRoundTrip(t *testing.T) {
	c, requests, responses := newPipedLineClient(t)

	go func() {
		if !requests.Scan() {
			return
		}
		var req depthRequest
		if err := json.Unmarshal(requests.Bytes(), &req); err != nil {
			return
		}
		if req.Command != "ping" {
			return
		}
		_, _ = responses.Write([]byte("{\"status\":\"ok\"}\n"))
	}()

	var resp depthResponse
	require.NoError(t, c.roundTrip(context.Background(), depthRequest{Command: "ping"}, &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestLineClientSkipsBlankLines(t *testing.T) {
	c, requests, responses := newPipedLineClient(t)

	go func() {
		requests.Scan()
		_, _ = responses.Write([]byte("\n\n{\"status\":\"ok\"}\n"))
	}()

	var resp depthResponse
	require.NoError(t, c.roundTrip(context.Background(), depthRequest{Command: "ping"}, &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestLineClientWedgesAfterAbandonedCall(t *testing.T) {
	c, requests, _ := newPipedLineClient(t)
	go func() {
		for requests.Scan() {
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var resp depthResponse
	err := c.roundTrip(ctx, depthRequest{Command: "ping"}, &resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	err = c.roundTrip(context.Background(), depthRequest{Command: "ping"}, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of sync")
}

func TestLineClientProcessExit(t *testing.T) {
	c, requests, responses := newPipedLineClient(t)
	go func() {
		for requests.Scan() {
		}
	}()
	require.NoError(t, responses.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp depthResponse
	err := c.roundTrip(ctx, depthRequest{Command: "ping"}, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process exited")
}

func TestLineClientBadResponseJSON(t *testing.T) {
	c, requests, responses := newPipedLineClient(t)
	go func() {
		requests.Scan()
		_, _ = responses.Write([]byte("not json\n"))
	}()

	var resp depthResponse
	err := c.roundTrip(context.Background(), depthRequest{Command: "ping"}, &resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestDepthClientProcessImageFraming(t *testing.T) {
	c, requests, responses := newPipedLineClient(t)
	client := &DepthClient{client: c, logger: logging.NewTestLogger(t)}

	go func() {
		if !requests.Scan() {
			return
		}
		var req depthRequest
		if err := json.Unmarshal(requests.Bytes(), &req); err != nil {
			return
		}
		if req.Command != "process" || req.ImagePath != "/tmp/frame.jpg" {
			return
		}
		if len(req.BoundingBoxes) != 1 || req.BoundingBoxes[0] != [4]int{10, 20, 30, 40} {
			return
		}
		resp := depthResponse{
			Status: "success",
			Objects: []ObjectDepth{
				{BBox: [4]int{10, 20, 30, 40}, DepthMeters: 0.25, DepthCM: 25},
			},
		}
		payload, _ := json.Marshal(resp)
		_, _ = responses.Write(append(payload, '\n'))
	}()

	objects := []DetectedObject{
		{Label: "cup", Confidence: 0.9, Box: BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}},
	}
	depths, err := client.ProcessImage(context.Background(), "/tmp/frame.jpg", objects)
	require.NoError(t, err)
	require.Len(t, depths, 1)
	assert.InDelta(t, 25, depths[0].DepthCM, 1e-9)
}

func TestDepthClientProcessErrorStatus(t *testing.T) {
	c, requests, responses := newPipedLineClient(t)
	client := &DepthClient{client: c, logger: logging.NewTestLogger(t)}

	go func() {
		requests.Scan()
		_, _ = responses.Write([]byte("{\"status\":\"error\",\"error\":\"no depth map\"}\n"))
	}()

	_, err := client.ProcessImage(context.Background(), "/tmp/frame.jpg", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no depth map")
}
