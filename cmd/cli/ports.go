package main

import (
	"fmt"

	"robothand"
)

type PortsCommand struct {
	Baud int    `long:"baud" default:"1000000" description:"Bus baud rate for probing"`
	Save string `long:"save" description:"Write a starter config for the first discovered hand to this path"`
	All  bool   `long:"all" description:"List every candidate port without probing"`
}

func (c *PortsCommand) Execute(args []string) error {
	logger := commandLogger()

	if c.All {
		for _, port := range robothand.FilterCandidatePorts(robothand.EnumerateSerialPorts()) {
			fmt.Println(port)
		}
		return nil
	}

	hands, err := robothand.DiscoverHands(cliCtx, c.Baud, logger)
	if err != nil {
		return err
	}
	if len(hands) == 0 {
		fmt.Println("no hands found")
		return nil
	}
	for _, hand := range hands {
		fmt.Printf("%s (fingers: %v, wrist: %v)\n", hand.Port, hand.HasFingers, hand.HasWrist)
	}

	if c.Save != "" {
		cfg := robothand.SuggestedConfig(hands[0])
		if err := cfg.Save(c.Save); err != nil {
			return err
		}
		fmt.Printf("wrote starter config for %s to %s\n", hands[0].Port, c.Save)
	}
	return nil
}
