package robothand

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Collaborator processes load models on startup; give them time before the
// first request.
const collaboratorStartupWait = 2 * time.Second

// lineClient is a JSON-lines request/response channel to a collaborator
// subprocess. One request line yields exactly one response line; calls are
// serialized, so responses pair with requests by order.
type lineClient struct {
	name string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	wedged bool

	logger logging.Logger
}

// startLineClient launches the collaborator command, wires its pipes, and
// waits out the startup period. Stderr passes through so collaborator
// diagnostics stay visible.
func startLineClient(ctx context.Context, name string, command []string, logger logging.Logger) (*lineClient, error) {
	if len(command) == 0 {
		return nil, &ConfigError{Field: name + "_command", Reason: "empty command"}
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &CollaboratorError{Name: name, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &CollaboratorError{Name: name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &CollaboratorError{Name: name, Err: errors.Wrap(err, "starting process")}
	}

	c := &lineClient{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, 1),
		logger: logger,
	}
	utils.PanicCapturingGo(func() { c.readLines(stdout) })

	if !utils.SelectContextOrWait(ctx, collaboratorStartupWait) {
		utils.UncheckedError(c.close(nil))
		return nil, ctx.Err()
	}
	return c, nil
}

// readLines feeds stdout lines into the response channel until the process
// exits, then closes the channel to unblock any waiting call.
func (c *lineClient) readLines(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		select {
		case c.lines <- buf:
		default:
			c.logger.Warnf("%s: dropping unclaimed response line", c.name)
		}
	}
	close(c.lines)
}

// roundTrip sends one request and decodes the next response line into resp.
// A call abandoned by its context leaves the stream out of order, so the
// client wedges itself; callers must recreate it to recover.
func (c *lineClient) roundTrip(ctx context.Context, req, resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return &CollaboratorError{Name: c.name, Err: errors.New("closed")}
	}
	if c.wedged {
		return &CollaboratorError{Name: c.name, Err: errors.New("response stream out of sync")}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return &CollaboratorError{Name: c.name, Err: errors.Wrap(err, "encoding request")}
	}
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		return &CollaboratorError{Name: c.name, Err: errors.Wrap(err, "writing request")}
	}

	select {
	case line, ok := <-c.lines:
		if !ok {
			return &CollaboratorError{Name: c.name, Err: errors.New("process exited")}
		}
		if err := json.Unmarshal(line, resp); err != nil {
			return &CollaboratorError{Name: c.name, Err: errors.Wrap(err, "decoding response")}
		}
		return nil
	case <-ctx.Done():
		c.wedged = true
		c.logger.Warnf("%s: call abandoned (%v), client needs restart", c.name, ctx.Err())
		return &CollaboratorError{Name: c.name, Err: ctx.Err()}
	}
}

// close sends an optional farewell line, then kills and reaps the process.
func (c *lineClient) close(farewell []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}
	if farewell != nil && !c.wedged {
		if _, err := c.stdin.Write(append(farewell, '\n')); err != nil {
			c.logger.Debugf("%s: farewell write failed: %v", c.name, err)
		}
	}
	utils.UncheckedError(c.stdin.Close())
	if err := c.cmd.Process.Kill(); err != nil {
		c.logger.Debugf("%s: kill failed: %v", c.name, err)
	}
	utils.UncheckedError(c.cmd.Wait())
	c.cmd = nil
	return nil
}
