//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"github.com/ardnew/sdmsc/pkg"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = true

// ErrCPUProfileActive indicates CPU profiling is already active.
var ErrCPUProfileActive = errors.New("cpu profile already active")

var (
	// cpuMutex protects cpuActive.
	cpuMutex  sync.Mutex
	cpuActive bool
)

// Register mounts the pprof handlers on mux under /debug/pprof/ and enables
// block and mutex sampling.
func Register(mux *http.ServeMux) {
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// StartCPU starts CPU profiling into w. The returned function stops the
// profile and is safe to call more than once.
func StartCPU(w io.Writer) (func(), error) {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuActive {
		return func() {}, ErrCPUProfileActive
	}
	if err := rpprof.StartCPUProfile(w); err != nil {
		return func() {}, err
	}
	cpuActive = true

	var once sync.Once
	return func() {
		once.Do(func() {
			cpuMutex.Lock()
			defer cpuMutex.Unlock()
			rpprof.StopCPUProfile()
			cpuActive = false
		})
	}, nil
}

// IsCPUActive reports whether CPU profiling is currently active.
func IsCPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuActive
}

// Snapshot writes the named profile to w. debug 0 produces the binary
// format read by go tool pprof; debug 1 produces text.
func Snapshot(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%w: cpu profile needs StartCPU", pkg.ErrInvalidParameter)
	}
	p := rpprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%w: profile %q", pkg.ErrInvalidParameter, profile)
	}
	return p.WriteTo(w, debug)
}
