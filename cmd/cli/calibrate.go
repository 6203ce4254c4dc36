package main

import (
	"context"
	"fmt"
	"time"

	"go.viam.com/utils"

	"robothand"
)

type CalibrateCommand struct {
	Output string `short:"O" long:"output" default:"hand.json" description:"Where to write the verified configuration"`
	Pause  int    `long:"pause" default:"500" description:"Milliseconds to hold each calibration pose"`
}

// Execute steps every mapped joint through min, center and max so the
// operator can verify channel wiring and limits, then saves the config.
func (c *CalibrateCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		pause := time.Duration(c.Pause) * time.Millisecond

		for _, mj := range env.servoMap.Entries() {
			entry := mj.Entry
			center := (entry.MinAngle + entry.MaxAngle) / 2
			fmt.Printf("%s joint %d on channel %d: %.0f° -> %.0f° -> %.0f°\n",
				mj.Finger, mj.Joint, entry.Channel, entry.MinAngle, entry.MaxAngle, center)

			for _, angle := range []float64{entry.MinAngle, center, entry.MaxAngle, center} {
				channel, servoAngle, err := env.servoMap.LogicalToPhysical(mj.Finger, mj.Joint, angle)
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
		}

		if err := env.cfg.Save(c.Output); err != nil {
			return err
		}
		fmt.Printf("all joints verified, config saved to %s\n", c.Output)
		return nil
	})
}
