// Command-line control for the robotic hand: discovery, direct servo
// moves, grip patterns, the scripted pickup sequence, and sensor checks.
package main

import (
	"context"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

type options struct {
	Config string `short:"c" long:"config" description:"Path to the hand configuration file"`
	Debug  bool   `short:"d" long:"debug" description:"Enable debug logging"`

	Ports     PortsCommand     `command:"ports" description:"Discover hands on serial ports"`
	Set       SetCommand       `command:"set" description:"Move a single servo"`
	Open      OpenCommand      `command:"open" description:"Open the hand fully"`
	Close     CloseCommand     `command:"close" description:"Close the hand fully"`
	Grasp     GraspCommand     `command:"grasp" description:"Apply the grip pattern for an object"`
	Pickup    PickupCommand    `command:"pickup" description:"Run the scripted pickup sequence"`
	Sweep     SweepCommand     `command:"sweep" description:"Sweep a finger through its range"`
	Emg       EmgCommand       `command:"emg" description:"Monitor the muscle sensor"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Step every joint and save a verified config"`
}

var (
	opts      options
	cliCtx    context.Context
	cliLogger logging.Logger
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("hand-cli"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	cliCtx = ctx
	cliLogger = logger

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "Manual control and diagnostics for the robotic hand"

	if _, err := parser.ParseArgs(args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			return nil
		}
		return err
	}
	return nil
}

// commandLogger picks up the global debug flag, which go-flags binds before
// it executes the subcommand.
func commandLogger() logging.Logger {
	if opts.Debug {
		return logging.NewDebugLogger("hand-cli")
	}
	return cliLogger
}
