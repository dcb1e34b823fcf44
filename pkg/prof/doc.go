// Package prof exposes optional runtime profiling for the sdmsc tools.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/sdimg
//
// Without the tag every function is a no-op and [Enabled] is false, so the
// hooks can stay in place at no cost.
//
// # HTTP Profiling
//
// [Register] mounts the [net/http/pprof] handlers under /debug/pprof/ on a
// mux. The block server calls it for its own mux, so a profiling build of
// "sdimg serve" answers at http://localhost:8080/debug/pprof/.
//
// # CPU Profiling
//
// [StartCPU] streams samples to a writer until the returned stop function
// runs. Only one CPU profile may be active at a time:
//
//	stop, err := prof.StartCPU(f)
//	if err != nil {
//	    return err
//	}
//	defer stop()
//
// # Snapshots
//
// [Snapshot] writes a point-in-time profile such as [ProfileHeap] or
// [ProfileGoroutine].
package prof
