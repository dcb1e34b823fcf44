package sdcard

import (
	"fmt"

	"github.com/ardnew/sdmsc/pkg"
)

// CommandError reports a command that failed, with the last status byte
// received from the card.
type CommandError struct {
	Cmd    uint8 // command index (CMDn)
	Status byte  // last R1 or token byte
	Err    error // underlying sentinel from package pkg
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("CMD%d: status 0x%02X: %v", e.Cmd, e.Status, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// statusError classifies a non-ready R1 status. A byte with the top bit
// set means the response poll ran out.
func statusError(cmd uint8, status byte) error {
	err := pkg.ErrProtocolMismatch
	if status&R1NoResponse != 0 {
		err = pkg.ErrCommandTimeout
	}
	return &CommandError{Cmd: cmd, Status: status, Err: err}
}
