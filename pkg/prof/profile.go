package prof

// Profile names a runtime/pprof profile.
type Profile string

// Profile types.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// Snapshots are written when a session stops.
var Snapshots = []Profile{ProfileHeap, ProfileGoroutine, ProfileBlock, ProfileMutex}

// String returns the pprof name.
func (p Profile) String() string {
	return string(p)
}
