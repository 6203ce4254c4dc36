package main

import (
	"fmt"

	"go.viam.com/utils"

	"robothand"
)

type EmgCommand struct {
	Port      string `long:"port" description:"Sensor serial port (defaults to the configured one)"`
	Threshold int    `long:"threshold" default:"0" description:"Trigger threshold (defaults to the configured one)"`
}

// Execute streams sensor readings and reports trigger events until
// interrupted.
func (c *EmgCommand) Execute(args []string) error {
	logger := commandLogger()
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	port := cfg.Emg.Port
	if c.Port != "" {
		port = c.Port
	}
	threshold := cfg.Emg.Threshold
	if c.Threshold > 0 {
		threshold = c.Threshold
	}

	reader, err := robothand.NewEmgReader(port, cfg.Emg.BaudRate, threshold, logger)
	if err != nil {
		return err
	}
	defer func() {
		utils.UncheckedError(reader.Close())
	}()
	reader.SetDebounce(cfg.Emg.Debounce())

	fmt.Printf("monitoring %s (threshold %d), ctrl-c to stop\n", port, threshold)
	for {
		value, ok, err := reader.ReadValue()
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("%4d\n", value)
			if reader.InjectValue(value) {
				fmt.Println("TRIGGER")
				reader.SetState(robothand.EmgIdle)
			}
		}
		if !utils.SelectContextOrWait(cliCtx, cfg.Emg.PollInterval()) {
			return nil
		}
	}
}
