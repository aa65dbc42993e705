//go:build profile

package prof

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	s, err := Start(dir)
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if s.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", s.Dir(), dir)
	}

	if _, err := Start(dir); !errors.Is(err, ErrActive) {
		t.Errorf("second Start() error = %v, want %v", err, ErrActive)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, want nil", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}

	for _, p := range append([]Profile{ProfileCPU}, Snapshots...) {
		info, err := os.Stat(filepath.Join(dir, p.String()+".prof"))
		if err != nil {
			t.Errorf("%s profile missing: %v", p, err)
			continue
		}
		if p != ProfileCPU && info.Size() == 0 {
			t.Errorf("%s profile is empty", p)
		}
	}
}

func TestStartInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Start(filepath.Join(file, "sub")); err == nil {
		t.Error("Start() under a regular file should fail")
	}

	s, err := Start(t.TempDir())
	if err != nil {
		t.Fatalf("Start() after failure error = %v, want nil", err)
	}
	s.Stop()
}

func TestEnabled(t *testing.T) {
	if !Enabled {
		t.Error("Enabled = false with the profile tag")
	}
}
