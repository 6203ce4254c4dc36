package main

import (
	"context"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"robothand"
)

// cliEnv bundles what most commands need: the loaded config, an open servo
// protocol, and the logical-to-channel map.
type cliEnv struct {
	cfg      *robothand.Config
	protocol robothand.ServoProtocol
	servoMap *robothand.ServoMap
	logger   logging.Logger
}

func loadCLIConfig() (*robothand.Config, error) {
	if opts.Config == "" {
		return robothand.DefaultConfig(), nil
	}
	return robothand.LoadConfig(opts.Config)
}

// withHand opens the configured transport, runs fn, and closes it again.
func withHand(fn func(ctx context.Context, env *cliEnv) error) error {
	logger := commandLogger()
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	protocol, err := robothand.NewServoProtocol(cliCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		utils.UncheckedError(protocol.Close())
	}()

	servoMap, err := cfg.ServoMap()
	if err != nil {
		return err
	}

	return fn(cliCtx, &cliEnv{
		cfg:      cfg,
		protocol: protocol,
		servoMap: servoMap,
		logger:   logger,
	})
}

// sendPose writes one pose across all five fingers.
func sendPose(ctx context.Context, env *cliEnv, angles robothand.JointAngles) error {
	for _, finger := range robothand.AllFingers() {
		channel, servoAngle, err := env.servoMap.LogicalToPhysical(finger, 0, angles.FingerAngle(finger))
		if err != nil {
			return err
		}
		if err := env.protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
			return err
		}
	}
	return nil
}
