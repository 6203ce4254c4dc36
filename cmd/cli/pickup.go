package main

import (
	"context"
	"fmt"

	"robothand"
)

type PickupCommand struct {
	Object string `short:"o" long:"object" default:"default" description:"Object label the grip pattern is chosen for"`
}

func (c *PickupCommand) Execute(args []string) error {
	return withHand(func(ctx context.Context, env *cliEnv) error {
		objectType := robothand.ClassifyObjectType(c.Object)
		pattern := robothand.GripPatternFor(objectType)
		fmt.Printf("picking up %s with %s grip\n", c.Object, pattern.Type)

		seq := robothand.NewPickupSequence(pattern, env.logger)
		if err := seq.Run(ctx, env.protocol, env.servoMap); err != nil {
			return err
		}
		fmt.Println("pickup complete")
		return nil
	})
}
