//go:build !profile

package prof

import (
	"errors"
	"io"
	"net/http"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = false

// ErrCPUProfileActive indicates CPU profiling is already active.
var ErrCPUProfileActive = errors.New("cpu profile already active")

// Register is a no-op without the "profile" tag.
func Register(_ *http.ServeMux) {}

// StartCPU is a no-op without the "profile" tag.
func StartCPU(_ io.Writer) (func(), error) {
	return func() {}, nil
}

// IsCPUActive always returns false without the "profile" tag.
func IsCPUActive() bool {
	return false
}

// Snapshot is a no-op without the "profile" tag.
func Snapshot(_ Profile, _ io.Writer, _ int) error {
	return nil
}
