// Package pkg provides shared utilities for the usbxfer transfer engine.
//
// This package contains functionality used by the engine, the simulated
// bus driver and the command line tools:
//
//   - Structured logging via Go's standard [log/slog] package
//   - The transfer error taxonomy ([Code]) and its sentinel errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with engine-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEngine, "group setup", "transfers", 4)
//
// # Errors
//
// Every transfer outcome is a [Code]. Codes map to sentinel errors so
// callers can use [errors.Is]:
//
//	if errors.Is(x.Err(), pkg.ErrShortTransfer) {
//	    // fewer bytes than requested
//	}
package pkg
