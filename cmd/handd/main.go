// handd runs the autonomous pickup loop: muscle trigger, camera, planner,
// servos. Collaborator processes and the language-model planner are
// optional; whatever is missing degrades to the built-in behavior.
package main

import (
	"context"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"robothand"
)

type options struct {
	Config    string `short:"c" long:"config" description:"Path to the hand configuration file"`
	Debug     bool   `short:"d" long:"debug" description:"Enable debug logging"`
	Auto      bool   `long:"auto" description:"Trigger on detected objects instead of the muscle sensor"`
	NoPlanner bool   `long:"no-planner" description:"Skip the language-model planner and run fixed pickup sequences"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("handd"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var opts options
	if _, err := flags.ParseArgs(&opts, args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	if opts.Debug {
		logger = logging.NewDebugLogger("handd")
	}

	cfg := robothand.DefaultConfig()
	if opts.Config != "" {
		loaded, err := robothand.LoadConfig(opts.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.Auto {
		cfg.Control.AutoTrigger = true
	}
	if opts.NoPlanner {
		cfg.Planner.Enable = false
	}

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *robothand.Config, logger logging.Logger) error {
	registry := robothand.NewProtocolRegistry(logger)
	protocol, key, err := registry.Get(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Release(key)

	servoMap, err := cfg.ServoMap()
	if err != nil {
		return err
	}

	emg, err := robothand.NewEmgReader(cfg.Emg.Port, cfg.Emg.BaudRate, cfg.Emg.Threshold, logger)
	if err != nil {
		return err
	}
	defer func() {
		utils.UncheckedError(emg.Close())
	}()
	emg.SetDebounce(cfg.Emg.Debounce())

	deps := robothand.AutonomousDeps{
		Emg:      emg,
		Protocol: protocol,
		ServoMap: servoMap,
	}

	if len(cfg.Vision.DetectorCommand) > 0 {
		detector, err := robothand.NewDetectorClient(ctx, cfg.Vision.DetectorCommand, logger)
		if err != nil {
			return err
		}
		defer func() {
			utils.UncheckedError(detector.Close())
		}()
		deps.Detector = detector
		deps.Frames = detector
	} else {
		logger.Warn("no detector command configured, running with the mock detector")
		mock := robothand.NewMockDetector(640, 480)
		deps.Detector = mock
		deps.Frames = mock
	}

	if len(cfg.Vision.DepthCommand) > 0 {
		depthClient, err := robothand.NewDepthClient(ctx, cfg.Vision.DepthCommand, logger)
		if err != nil {
			logger.Warnw("depth collaborator unavailable, using size-based estimates", "error", err)
		} else {
			worker := robothand.NewDepthWorker(depthClient, cfg.Vision.DepthTimeout(), logger)
			defer func() {
				utils.UncheckedError(worker.Close())
			}()
			deps.Depth = worker
		}
	}

	if cfg.Vision.EnableHandTracking && len(cfg.Vision.HandPoseCommand) > 0 {
		frameWidth, frameHeight := deps.Detector.FrameSize()
		poses, err := robothand.NewPoseClient(ctx, cfg.Vision.HandPoseCommand, frameWidth, frameHeight, logger)
		if err != nil {
			logger.Warnw("hand-pose collaborator unavailable, scenes will have no hand", "error", err)
		} else {
			defer func() {
				utils.UncheckedError(poses.Close())
			}()
			deps.Poses = poses
		}
	}

	if cfg.Planner.Enable {
		planner, err := robothand.NewGeminiPlanner(ctx, cfg.Planner.APIKey, cfg.Planner.Model, logger)
		if err != nil {
			logger.Warnw("planner unavailable, using built-in grasp plans", "error", err)
		} else {
			deps.Planner = planner
		}
	}

	controller, err := robothand.NewAutonomousController(cfg, deps, logger)
	if err != nil {
		return err
	}
	return controller.Run(ctx)
}
