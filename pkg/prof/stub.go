//go:build !profile

package prof

// Enabled reports whether profiling is compiled in.
const Enabled = false

// Session is inert without the "profile" build tag.
type Session struct {
	dir string
}

// Start is a no-op when built without the "profile" tag.
func Start(dir string) (*Session, error) {
	return &Session{dir: dir}, nil
}

// Dir returns the output directory.
func (s *Session) Dir() string { return s.dir }

// Stop is a no-op when built without the "profile" tag.
func (s *Session) Stop() error {
	return nil
}
