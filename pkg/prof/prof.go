//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

// Profiling errors.
var (
	// ErrActive indicates a session is already running.
	ErrActive = errors.New("profile session already active")

	// ErrInvalidProfile indicates an unknown snapshot profile.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	mu     sync.Mutex
	active *Session
)

// Session is one profiling run writing into a directory.
type Session struct {
	dir string
	cpu *os.File
}

// Start creates dir if needed, begins CPU profiling into dir/cpu.prof and
// enables block and mutex sampling. Only one session runs at a time.
func Start(dir string) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if active != nil {
		return nil, ErrActive
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.Create(filepath.Join(dir, ProfileCPU.String()+".prof"))
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	active = &Session{dir: dir, cpu: f}
	return active, nil
}

// Dir returns the output directory.
func (s *Session) Dir() string { return s.dir }

// Stop ends CPU profiling, writes every snapshot profile and disables block
// and mutex sampling. Stopping a stopped session does nothing.
func (s *Session) Stop() error {
	mu.Lock()
	defer mu.Unlock()

	if active != s {
		return nil
	}
	active = nil

	pprof.StopCPUProfile()
	err := s.cpu.Close()

	for _, p := range Snapshots {
		if werr := writeSnapshot(p, filepath.Join(s.dir, p.String()+".prof")); werr != nil {
			err = errors.Join(err, werr)
		}
	}

	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	return err
}

func writeSnapshot(p Profile, path string) error {
	lp := pprof.Lookup(p.String())
	if lp == nil {
		return fmt.Errorf("%s: %w", p, ErrInvalidProfile)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := lp.WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
