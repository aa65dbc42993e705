// Package prof captures runtime profiles of a transfer workload.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/xfersim
//
// Without the tag [Start] returns an inert [Session] and [Enabled] is false,
// so callers keep their profiling hooks in place at no cost.
//
// A session streams a CPU profile while it runs and, when stopped, writes
// snapshot profiles next to it:
//
//	s, err := prof.Start("profiles")
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// The directory then holds cpu.prof plus one file per entry of [Snapshots].
// Block and mutex sampling are enabled for the lifetime of the session
// because the engine's bus and client locks are what a workload profile is
// usually after.
package prof
