package robothand

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const (
	// Pause between executed plan steps so the hand settles visibly.
	commandPacing = 500 * time.Millisecond
	// Pause after every servo write burst.
	commandSettleDelay = 100 * time.Millisecond
	// Backoff after a trigger that found nothing to pick up.
	emptySceneBackoff = time.Second
)

// AutonomousDeps carries the collaborators the controller drives. Detector,
// EMG reader, protocol and servo map are required; the rest may be nil and
// their features are skipped.
type AutonomousDeps struct {
	Detector ObjectDetector
	Frames   FrameSource
	Emg      *EmgReader
	Protocol ServoProtocol
	ServoMap *ServoMap
	Planner  Planner
	Depth    *DepthWorker
	Poses    HandPoseEstimator
}

// AutonomousController runs the sense-plan-act loop: a muscle trigger (or
// auto-trigger) captures a frame, detection and depth produce a scene, the
// planner turns the scene into movement commands, and the controller walks
// them onto the servos one step per cycle. With planning disabled entirely,
// a detected target starts a fixed grip-pattern pickup sequence instead.
type AutonomousController struct {
	config   *Config
	detector ObjectDetector
	frames   FrameSource
	emg      *EmgReader
	protocol ServoProtocol
	servoMap *ServoMap
	planner  Planner
	fallback *FallbackPlanner
	depth    *DepthWorker
	poses    HandPoseEstimator
	fk       *ForwardKinematics
	ik       *InverseKinematics
	clk      clock.Clock
	logger   logging.Logger

	currentAngles   JointAngles
	currentCommands []MovementCommand
	commandIndex    int
	sequence        *PickupSequence
	lastDetectCheck time.Time
}

func NewAutonomousController(cfg *Config, deps AutonomousDeps, logger logging.Logger) (*AutonomousController, error) {
	if deps.Detector == nil {
		return nil, errors.New("autonomous controller requires an object detector")
	}
	if deps.Emg == nil {
		return nil, errors.New("autonomous controller requires an emg reader")
	}
	if deps.Protocol == nil || deps.ServoMap == nil {
		return nil, errors.New("autonomous controller requires a servo protocol and map")
	}
	if deps.Depth != nil || (cfg.Vision.EnableHandTracking && deps.Poses != nil) {
		if err := EnsureFrameDir(); err != nil {
			return nil, err
		}
	}

	geometry := DefaultHandGeometry()
	base := cfg.Control.HandBasePosition
	return &AutonomousController{
		config:        cfg,
		detector:      deps.Detector,
		frames:        deps.Frames,
		emg:           deps.Emg,
		protocol:      deps.Protocol,
		servoMap:      deps.ServoMap,
		planner:       deps.Planner,
		fallback:      NewFallbackPlanner(geometry, logger),
		depth:         deps.Depth,
		poses:         deps.Poses,
		fk:            NewForwardKinematics(geometry, base),
		ik:            NewInverseKinematics(geometry, base),
		clk:           clock.New(),
		logger:        logger,
		currentAngles: OpenPose(),
	}, nil
}

// SetClock replaces the wall clock, for tests.
func (c *AutonomousController) SetClock(clk clock.Clock) { c.clk = clk }

func (c *AutonomousController) CurrentAngles() JointAngles { return c.currentAngles.Clone() }

// QueuedCommands returns the plan steps not yet executed.
func (c *AutonomousController) QueuedCommands() []MovementCommand {
	if c.commandIndex >= len(c.currentCommands) {
		return nil
	}
	out := make([]MovementCommand, len(c.currentCommands)-c.commandIndex)
	copy(out, c.currentCommands[c.commandIndex:])
	return out
}

// Run drives the control loop until the context ends. Cycle errors are
// logged and the loop continues; only context cancellation stops it.
func (c *AutonomousController) Run(ctx context.Context) error {
	c.logger.Infof("autonomous control started (auto-trigger %v, planner %v, depth %v)",
		c.config.Control.AutoTrigger, c.planner != nil, c.depth != nil)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.RunStep(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Errorw("control cycle failed", "error", err)
		}
		if !utils.SelectContextOrWait(ctx, c.config.Emg.PollInterval()) {
			return ctx.Err()
		}
	}
}

// RunStep runs a single control cycle: advance whatever is in flight (a
// pickup sequence or a queued plan), otherwise check the trigger and start
// a cycle.
func (c *AutonomousController) RunStep(ctx context.Context) error {
	if c.sequence != nil && c.emg.State() == EmgExecuting {
		return c.stepPickupSequence(ctx)
	}
	if len(c.currentCommands) > 0 && c.emg.State() == EmgExecuting {
		return c.executePendingCommand(ctx)
	}

	triggered, err := c.shouldTrigger(ctx)
	if err != nil {
		return err
	}
	if !triggered {
		return nil
	}
	return c.runCycle(ctx)
}

func (c *AutonomousController) executePendingCommand(ctx context.Context) error {
	if c.commandIndex < len(c.currentCommands) {
		cmd := c.currentCommands[c.commandIndex]
		c.logger.Infof("step %d/%d: %s", c.commandIndex+1, len(c.currentCommands), cmd.Action)
		if cmd.Reasoning != "" {
			c.logger.Debugf("reasoning: %s", cmd.Reasoning)
		}
		if err := c.executeCommand(ctx, cmd); err != nil {
			c.logger.Errorw("movement command failed", "action", cmd.Action, "error", err)
		}
		c.commandIndex++
		if !utils.SelectContextOrWait(ctx, commandPacing) {
			return ctx.Err()
		}
		return nil
	}

	c.logger.Info("movement sequence complete")
	c.currentCommands = nil
	c.commandIndex = 0
	c.emg.SetState(EmgIdle)
	if c.config.Control.AutoTrigger {
		if !utils.SelectContextOrWait(ctx, c.config.Control.AutoTriggerDelay()) {
			return ctx.Err()
		}
	}
	return nil
}

// startPickupSequence begins the fixed pattern-driven pickup used when no
// plan-generating service is configured.
func (c *AutonomousController) startPickupSequence(target DetectedObject) {
	pattern := GripPatternFor(ClassifyObjectType(target.Label))
	seq := NewPickupSequence(pattern, c.logger)
	seq.SetClock(c.clk)
	c.sequence = seq
	c.logger.Infof("pickup sequence started: %s on %q", pattern.Type, target.Label)
}

// stepPickupSequence advances the in-flight pickup one step per cycle. A
// failed step aborts the sequence and returns the controller to idle.
func (c *AutonomousController) stepPickupSequence(ctx context.Context) error {
	if err := c.sequence.ExecuteStep(ctx, c.protocol, c.servoMap); err != nil {
		c.sequence = nil
		c.emg.SetState(EmgIdle)
		return err
	}
	if !c.sequence.IsComplete() {
		return nil
	}
	c.logger.Info("pickup sequence complete")
	c.sequence = nil
	c.emg.SetState(EmgIdle)
	if c.config.Control.AutoTrigger {
		if !utils.SelectContextOrWait(ctx, c.config.Control.AutoTriggerDelay()) {
			return ctx.Err()
		}
	}
	return nil
}

func (c *AutonomousController) shouldTrigger(ctx context.Context) (bool, error) {
	if c.config.Control.AutoTrigger {
		return c.checkAutoTrigger(ctx)
	}
	return c.emg.Poll()
}

// checkAutoTrigger fires a synthetic muscle signal when something pickable
// is in view. Detection runs at most once per camera poll interval.
func (c *AutonomousController) checkAutoTrigger(ctx context.Context) (bool, error) {
	if c.emg.State() != EmgIdle {
		return false, nil
	}
	if !c.lastDetectCheck.IsZero() && c.clk.Since(c.lastDetectCheck) < c.config.Vision.CameraPollInterval() {
		return false, nil
	}
	c.lastDetectCheck = c.clk.Now()

	objects, err := c.detector.DetectObjects(ctx, "")
	if err != nil {
		return false, err
	}
	if len(objects) == 0 {
		return false, nil
	}
	c.logger.Infof("auto-trigger: %d object(s) in view", len(objects))
	return c.emg.InjectValue(c.emg.Threshold() + 1), nil
}

// runCycle handles one trigger: frame, detections, depth, target selection,
// plan. The plan is queued; executePendingCommand works through it on the
// following cycles.
func (c *AutonomousController) runCycle(ctx context.Context) error {
	c.logger.Info("trigger received, starting pickup cycle")
	c.emg.SetState(EmgExecuting)

	framePath := ""
	if c.depth != nil && c.frames != nil {
		framePath = filepath.Join(FrameDir, fmt.Sprintf("frame_%d.jpg", c.clk.Now().UnixMilli()))
		if err := c.frames.SaveFrame(ctx, framePath); err != nil {
			c.logger.Warnw("frame capture failed, skipping depth this cycle", "error", err)
			framePath = ""
		}
	}

	objects, err := c.detector.DetectObjects(ctx, framePath)
	if err != nil {
		c.emg.SetState(EmgIdle)
		return err
	}
	if len(objects) == 0 {
		c.logger.Info("no objects found")
		c.emg.SetState(EmgIdle)
		if !utils.SelectContextOrWait(ctx, emptySceneBackoff) {
			return ctx.Err()
		}
		return nil
	}

	frameWidth, frameHeight := c.detector.FrameSize()
	for i := range objects {
		if objects[i].Distance == 0 {
			objects[i].Distance = EstimateDepth(objects[i].Label, objects[i].Box.Height, frameHeight) / 100
		}
	}
	c.resolveDepths(ctx, framePath, objects)

	target, ok := SelectBestObject(objects, frameWidth, frameHeight)
	if !ok {
		c.emg.SetState(EmgIdle)
		return nil
	}
	c.logger.Infof("target: %s (%.0f%% confidence, ~%.0fcm away)",
		target.Label, target.Confidence*100, target.Distance*100)

	if c.planner == nil && !c.config.Planner.Enable {
		c.startPickupSequence(target)
		return nil
	}

	commands := c.planMovement(ctx, target, objects)
	if len(commands) == 0 {
		c.emg.SetState(EmgIdle)
		return nil
	}
	c.currentCommands = commands
	c.commandIndex = 0
	return nil
}

// resolveDepths hands the frame to the depth worker and waits a bounded
// interval for the refined result. On timeout the size-based estimates
// already on the objects stand.
func (c *AutonomousController) resolveDepths(ctx context.Context, framePath string, objects []DetectedObject) {
	if c.depth == nil || framePath == "" {
		return
	}
	since := time.Now()
	c.depth.Submit(framePath, objects)

	waitCtx, cancel := context.WithTimeout(ctx, c.config.Vision.DepthWait())
	defer cancel()
	depths, ok := c.depth.WaitForResult(waitCtx, since)
	if !ok {
		c.logger.Warn("depth result not ready, using size-based estimates")
		return
	}
	for i := range objects {
		if i < len(depths) {
			objects[i].Distance = depths[i].DepthCM / 100
		}
	}
	c.logger.Debugf("depth refined for %d object(s)", len(depths))
}

func (c *AutonomousController) planMovement(ctx context.Context, target DetectedObject, objects []DetectedObject) []MovementCommand {
	scene := c.buildScene(ctx, target, objects)
	if c.planner != nil {
		commands, err := c.planner.GenerateMovementPlan(ctx, scene)
		if err == nil {
			return commands
		}
		c.logger.Warnw("planner failed, using fallback plan", "error", err)
	}
	commands, err := c.fallback.GenerateMovementPlan(ctx, scene)
	if err != nil {
		c.logger.Errorw("fallback plan failed", "error", err)
		return nil
	}
	return commands
}

func (c *AutonomousController) buildScene(ctx context.Context, target DetectedObject, objects []DetectedObject) *SceneState {
	var handPose *HandPose
	if c.config.Vision.EnableHandTracking && c.poses != nil && c.frames != nil {
		handPose = c.detectHandPose(ctx, target)
	}
	others := make([]DetectedObject, 0, len(objects))
	for _, obj := range objects {
		if obj.Label != target.Label {
			others = append(others, obj)
		}
	}
	return &SceneState{
		TargetObject:        target,
		ObjectDepthCM:       target.Distance * 100,
		HandPose:            handPose,
		OtherObjects:        others,
		CameraFOVHorizontal: c.config.Vision.FOVHorizontal,
		CameraFOVVertical:   c.config.Vision.FOVVertical,
	}
}

// detectHandPose captures a dedicated frame for the pose estimator and
// removes it afterwards. Any failure just means the scene has no hand.
func (c *AutonomousController) detectHandPose(ctx context.Context, target DetectedObject) *HandPose {
	framePath := filepath.Join(FrameDir, fmt.Sprintf("hand_frame_%d.jpg", c.clk.Now().UnixMilli()))
	if err := c.frames.SaveFrame(ctx, framePath); err != nil {
		c.logger.Debugw("hand frame capture failed", "error", err)
		return nil
	}
	defer func() {
		if err := os.Remove(framePath); err != nil && !os.IsNotExist(err) {
			c.logger.Debugw("hand frame cleanup failed", "error", err)
		}
	}()

	hands, err := c.poses.DetectHands(ctx, framePath, target.Distance*100)
	if err != nil {
		c.logger.Debugw("hand detection failed", "error", err)
		return nil
	}
	if len(hands) == 0 {
		return nil
	}
	pose := hands[0]
	return &pose
}

func (c *AutonomousController) executeCommand(ctx context.Context, cmd MovementCommand) error {
	p := cmd.Parameters
	switch cmd.Action {
	case ActionOpenHand, ActionApproach, ActionRelease:
		c.currentAngles = OpenPose()
		if err := c.sendJointAngles(ctx); err != nil {
			return err
		}

	case ActionCloseHand:
		c.currentAngles = ClosedPose()
		if err := c.sendJointAngles(ctx); err != nil {
			return err
		}

	case ActionGrasp:
		if p.GripStrength == nil {
			c.logger.Debug("grasp without grip_strength, skipping")
			break
		}
		angle := clamp(*p.GripStrength, 0, 1) * 90
		next := c.currentAngles.Clone()
		next.SetFingerAngle(Thumb, angle*0.8)
		next.SetFingerAngle(Index, angle)
		next.SetFingerAngle(Middle, angle)
		next.SetFingerAngle(Ring, angle)
		next.SetFingerAngle(Pinky, angle*0.9)
		c.currentAngles = next
		if err := c.sendJointAngles(ctx); err != nil {
			return err
		}

	case ActionMoveToPosition:
		if p.TargetXCM == nil || p.TargetYCM == nil || p.TargetZCM == nil {
			c.logger.Debug("move_to_position without full coordinates, skipping")
			break
		}
		c.moveToPosition(Position3D{X: *p.TargetXCM, Y: *p.TargetYCM, Z: *p.TargetZCM}, p)
		if err := c.sendJointAngles(ctx); err != nil {
			return err
		}

	case ActionRotateWrist:
		if p.WristPitch == nil || p.WristRoll == nil {
			c.logger.Debug("rotate_wrist without both angles, skipping")
			break
		}
		c.currentAngles = c.currentAngles.WithWrist(*p.WristPitch, *p.WristRoll)
		if err := c.sendJointAngles(ctx); err != nil {
			return err
		}

	case ActionRetreat:
		c.logger.Debug("retreat: holding pose")

	case ActionWait:
		if p.DurationMS != nil && *p.DurationMS > 0 {
			if !utils.SelectContextOrWait(ctx, time.Duration(*p.DurationMS)*time.Millisecond) {
				return ctx.Err()
			}
		}

	default:
		return errors.Errorf("unknown movement action %q", cmd.Action)
	}

	if !utils.SelectContextOrWait(ctx, commandSettleDelay) {
		return ctx.Err()
	}
	return nil
}

// moveToPosition solves for the target and updates the commanded pose. An
// unconverged solve may still apply its best solution; an unreachable
// target falls back to the approach pose toward it.
func (c *AutonomousController) moveToPosition(target Position3D, p MovementParameters) {
	guess := c.currentAngles.Clone()
	solution, err := c.ik.SolveGraspPosition(target, &guess)
	if err == nil {
		c.currentAngles = solution
		return
	}

	var conv *ConvergenceError
	var unreach *UnreachableError
	switch {
	case errors.As(err, &conv) && c.config.Control.BestEffortIK():
		c.logger.Warnf("ik did not converge (residual %.2fcm), applying best-effort solution", conv.Residual)
		c.currentAngles = conv.Best
	case errors.As(err, &unreach):
		c.logger.Warnw("target unreachable, holding approach pose", "error", err)
		c.currentAngles = c.ik.ApproachPose(target)
	default:
		c.logger.Warnw("ik failed, applying wrist parameters only", "error", err)
		pitch, roll := 0.0, 0.0
		if c.currentAngles.WristPitch != nil {
			pitch = *c.currentAngles.WristPitch
		}
		if c.currentAngles.WristRoll != nil {
			roll = *c.currentAngles.WristRoll
		}
		changed := false
		if p.WristPitch != nil {
			pitch = *p.WristPitch
			changed = true
		}
		if p.WristRoll != nil {
			roll = *p.WristRoll
			changed = true
		}
		if changed {
			c.currentAngles = c.currentAngles.WithWrist(pitch, roll)
		}
	}
}

// sendJointAngles writes the commanded pose to the servos: one channel per
// finger through the servo map, then the wrist axes when set. The solver
// base follows the palm so subsequent solves start from the real pose.
func (c *AutonomousController) sendJointAngles(ctx context.Context) error {
	for _, finger := range AllFingers() {
		channel, servoAngle, err := c.servoMap.LogicalToPhysical(finger, 0, c.currentAngles.FingerAngle(finger))
		if err != nil {
			return err
		}
		if err := c.protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
			return err
		}
	}
	if c.currentAngles.WristPitch != nil {
		if err := c.protocol.SendServoCommand(ctx, WristPitchChannel, wristServoAngle(*c.currentAngles.WristPitch)); err != nil {
			return err
		}
	}
	if c.currentAngles.WristRoll != nil {
		if err := c.protocol.SendServoCommand(ctx, WristRollChannel, wristServoAngle(*c.currentAngles.WristRoll)); err != nil {
			return err
		}
	}
	c.ik.SetBasePosition(c.fk.PalmCenter(c.currentAngles))
	return nil
}

// wristServoAngle converts a signed wrist angle about neutral into the
// servo's 0-180 frame.
func wristServoAngle(angle float64) float64 {
	return clamp(90+angle, 0, 180)
}
