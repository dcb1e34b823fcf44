package bridge

import "fmt"

// Block operations reported in a BlockError.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// BlockError reports the block at which a block-range operation stopped.
type BlockError struct {
	Op    string // OpRead or OpWrite
	Block uint32 // logical block being transferred
	Err   error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Block, e.Err)
}

// Unwrap returns the underlying error.
func (e *BlockError) Unwrap() error {
	return e.Err
}
