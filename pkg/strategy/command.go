// Package strategy turns detection data into movement commands and
// tracks the rover's coarse behavioral phase.
package strategy

import "github.com/teslashibe/go-rover/internal/config"

// Command is a movement command. Every command resolves to exactly one
// wheel pattern and speed/duration through the configured step table.
type Command string

const (
	Stop            Command = config.CmdStop
	StepForward     Command = config.CmdStepForward
	SmallForward    Command = config.CmdSmallForward
	MicroForward    Command = config.CmdMicroForward
	StepLeft        Command = config.CmdStepLeft
	MicroLeft       Command = config.CmdMicroLeft
	StepRight       Command = config.CmdStepRight
	MicroRight      Command = config.CmdMicroRight
	Search          Command = config.CmdSearch
	RecoveryForward Command = config.CmdRecoveryForward
)

func (c Command) String() string {
	return string(c)
}
