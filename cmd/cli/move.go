package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"robothand"
)

type SetCommand struct {
	Finger  string  `short:"f" long:"finger" description:"Finger name (thumb, index, middle, ring, pinky)"`
	Channel int     `long:"channel" default:"-1" description:"Raw servo channel, bypassing the servo map"`
	Angle   float64 `short:"a" long:"angle" required:"true" description:"Angle in degrees"`
}

func (c *SetCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		if c.Channel >= 0 {
			return env.protocol.SendServoCommand(ctx, uint8(c.Channel), c.Angle)
		}
		finger, ok := robothand.ParseFingerName(c.Finger)
		if !ok {
			return errors.Errorf("unknown finger %q", c.Finger)
		}
		channel, servoAngle, err := env.servoMap.LogicalToPhysical(finger, 0, c.Angle)
		if err != nil {
			return err
		}
		if err := env.protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
			return err
		}
		fmt.Printf("%s -> %.0f° (channel %d)\n", finger, c.Angle, channel)
		return nil
	})
}

type OpenCommand struct{}

func (c *OpenCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		return sendPose(ctx, env, robothand.OpenPose())
	})
}

type CloseCommand struct{}

func (c *CloseCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		return sendPose(ctx, env, robothand.ClosedPose())
	})
}

type GraspCommand struct {
	Object string `short:"o" long:"object" default:"default" description:"Object label (cup, bottle, phone, pen, ...)"`
}

func (c *GraspCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		objectType := robothand.ClassifyObjectType(c.Object)
		pattern := robothand.GripPatternFor(objectType)
		fmt.Printf("%s -> %s grip\n", c.Object, pattern.Type)

		for _, finger := range robothand.AllFingers() {
			angles := pattern.Angles(finger)
			if len(angles) == 0 {
				continue
			}
			channel, servoAngle, err := env.servoMap.LogicalToPhysical(finger, 0, angles[0])
			if err != nil {
				return err
			}
			if err := env.protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
				return err
			}
		}
		return nil
	})
}

type SweepCommand struct {
	Finger string  `short:"f" long:"finger" required:"true" description:"Finger to sweep"`
	Max    float64 `long:"max" default:"90" description:"Sweep limit in degrees"`
	Steps  int     `long:"steps" default:"10" description:"Poses per direction"`
	Pause  int     `long:"pause" default:"200" description:"Milliseconds between poses"`
}

func (c *SweepCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		finger, ok := robothand.ParseFingerName(c.Finger)
		if !ok {
			return errors.Errorf("unknown finger %q", c.Finger)
		}

		planner := robothand.DefaultMotionPlanner()
		up, err := planner.InterpolateTrajectory([]float64{0}, []float64{c.Max}, c.Steps)
		if err != nil {
			return err
		}
		down, err := planner.InterpolateTrajectory([]float64{c.Max}, []float64{0}, c.Steps)
		if err != nil {
			return err
		}

		pause := time.Duration(c.Pause) * time.Millisecond
		for _, pose := range append(up, down...) {
			channel, servoAngle, err := env.servoMap.LogicalToPhysical(finger, 0, pose[0])
			if err != nil {
				return err
			}
			if err := env.protocol.SendServoCommand(ctx, channel, servoAngle); err != nil {
				return err
			}
			if !utils.SelectContextOrWait(ctx, pause) {
				return ctx.Err()
			}
		}
		fmt.Printf("swept %s 0° -> %.0f° -> 0°\n", finger, c.Max)
		return nil
	})
}
