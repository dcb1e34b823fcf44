// Package pkg provides shared utilities for the sdmsc storage stack.
//
// This package contains common functionality used by the SD card driver,
// the block bridge, and the tooling built on them:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for SD protocol and block transfer failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a per-component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCard, "card ready", "type", "SDHC")
//
// # Errors
//
// Failures are reported as sentinel values, usually wrapped with context:
//
//	if errors.Is(err, pkg.ErrWriteRejected) {
//	    // The card refused the data block
//	}
package pkg
