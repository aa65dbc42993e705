package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"dario.cat/mergo"
	"go.yaml.in/yaml/v3"

	"github.com/ardnew/usbxfer/pkg"
)

// ErrInvalidSetting is wrapped by every validation failure.
var ErrInvalidSetting = errors.New("invalid setting")

// C is a loaded configuration: the raw YAML tree plus reload bookkeeping.
type C struct {
	path        string
	files       []string
	Settings    map[string]any
	oldSettings map[string]any
	callbacks   []func(*C)
	reloadLock  sync.Mutex
}

// NewC returns an empty configuration.
func NewC() *C {
	return &C{Settings: make(map[string]any)}
}

// Load reads path. A directory contributes every .yaml and .yml file below
// it, merged in lexical order with later files taking precedence.
func (c *C) Load(path string) error {
	c.path = path
	c.files = nil

	if err := c.resolve(path, true); err != nil {
		return err
	}
	if len(c.files) == 0 {
		return fmt.Errorf("no config files found at %s", path)
	}
	sort.Strings(c.files)

	return c.parse()
}

// LoadString parses raw YAML.
func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("empty configuration")
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}
	if m == nil {
		m = make(map[string]any)
	}
	c.Settings = m
	return nil
}

// RegisterReloadCallback adds f to the functions run after a successful
// reload. Callbacks use HasChanged to skip work.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.callbacks = append(c.callbacks, f)
}

// InitialLoad reports whether no reload has happened yet.
func (c *C) InitialLoad() bool {
	return c.oldSettings == nil
}

// HasChanged reports whether the value under k differs from before the
// last reload. An empty k compares the whole tree.
func (c *C) HasChanged(k string) bool {
	if c.oldSettings == nil {
		return false
	}

	var nv, ov any
	if k == "" {
		nv, ov = c.Settings, c.oldSettings
		k = "all settings"
	} else {
		nv, ov = c.get(k, c.Settings), c.get(k, c.oldSettings)
	}

	newVals, err := yaml.Marshal(nv)
	if err != nil {
		pkg.LogError(pkg.ComponentConfig, "marshal new config", "path", k, "error", err)
	}
	oldVals, err := yaml.Marshal(ov)
	if err != nil {
		pkg.LogError(pkg.ComponentConfig, "marshal old config", "path", k, "error", err)
	}
	return string(newVals) != string(oldVals)
}

// CatchHUP reloads the configuration from the original path on every
// SIGHUP until ctx is done.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				pkg.LogInfo(pkg.ComponentConfig, "caught HUP, reloading config", "path", c.path)
				c.ReloadConfig()
			}
		}
	}()
}

// ReloadConfig reloads from the original path and runs the callbacks. A
// failed reload keeps the current settings.
func (c *C) ReloadConfig() {
	c.reloadLock.Lock()
	defer c.reloadLock.Unlock()

	prev := c.snapshot()
	if err := c.Load(c.path); err != nil {
		pkg.LogError(pkg.ComponentConfig, "reload config", "path", c.path, "error", err)
		c.Settings = prev
		return
	}
	c.oldSettings = prev
	for _, f := range c.callbacks {
		f(c)
	}
}

// ReloadConfigString replaces the settings with raw and runs the callbacks.
func (c *C) ReloadConfigString(raw string) error {
	c.reloadLock.Lock()
	defer c.reloadLock.Unlock()

	prev := c.snapshot()
	if err := c.LoadString(raw); err != nil {
		return err
	}
	c.oldSettings = prev
	for _, f := range c.callbacks {
		f(c)
	}
	return nil
}

// snapshot shallow copies the current settings.
func (c *C) snapshot() map[string]any {
	m := make(map[string]any, len(c.Settings))
	for k, v := range c.Settings {
		m[k] = v
	}
	return m
}

// Get returns the value at the dotted path k, or nil.
func (c *C) Get(k string) any {
	return c.get(k, c.Settings)
}

// IsSet reports whether k has a value.
func (c *C) IsSet(k string) bool {
	return c.get(k, c.Settings) != nil
}

// GetString returns k as a string, or d when unset.
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}
	return fmt.Sprintf("%v", r)
}

// GetInt returns k as an int, or d when unset or not an integer.
func (c *C) GetInt(k string, d int) int {
	v, err := strconv.Atoi(c.GetString(k, strconv.Itoa(d)))
	if err != nil {
		return d
	}
	return v
}

// GetBool returns k as a bool, or d when unset or invalid. y/yes and n/no
// are accepted in any case.
func (c *C) GetBool(k string, d bool) bool {
	r := strings.ToLower(c.GetString(k, strconv.FormatBool(d)))
	v, err := strconv.ParseBool(r)
	if err != nil {
		switch r {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		return d
	}
	return v
}

// GetDuration returns k as a duration, or d when unset or invalid.
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	v, err := time.ParseDuration(c.GetString(k, ""))
	if err != nil {
		return d
	}
	return v
}

// intSetting is GetInt that reports malformed values instead of hiding
// them behind the default.
func (c *C) intSetting(k string, d int) (int, error) {
	if !c.IsSet(k) {
		return d, nil
	}
	v, err := strconv.Atoi(c.GetString(k, ""))
	if err != nil {
		return d, fmt.Errorf("%s: %q is not an integer: %w", k, c.GetString(k, ""), ErrInvalidSetting)
	}
	return v, nil
}

// durationSetting is GetDuration that reports malformed values.
func (c *C) durationSetting(k string, d time.Duration) (time.Duration, error) {
	if !c.IsSet(k) {
		return d, nil
	}
	v, err := time.ParseDuration(c.GetString(k, ""))
	if err != nil {
		return d, fmt.Errorf("%s: %w: %w", k, err, ErrInvalidSetting)
	}
	if v < 0 {
		return d, fmt.Errorf("%s: negative duration %s: %w", k, v, ErrInvalidSetting)
	}
	return v, nil
}

func (c *C) get(k string, v any) any {
	for _, p := range strings.Split(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v, ok = m[p]
		if !ok {
			return nil
		}
	}
	return v
}

// resolve collects config files. direct is true for the path the user
// named, which is accepted whatever its extension.
func (c *C) resolve(path string, direct bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if direct {
			return err
		}
		return nil
	}

	if !info.IsDir() {
		return c.addFile(path, direct)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read config directory %s: %w", path, err)
	}
	for _, e := range entries {
		if err := c.resolve(filepath.Join(path, e.Name()), false); err != nil {
			return err
		}
	}
	return nil
}

func (c *C) addFile(path string, direct bool) error {
	ext := filepath.Ext(path)
	if !direct && ext != ".yaml" && ext != ".yml" {
		return nil
	}
	ap, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	c.files = append(c.files, ap)
	return nil
}

func (c *C) parse() error {
	m := make(map[string]any)
	for _, path := range c.files {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var nm map[string]any
		if err := yaml.Unmarshal(b, &nm); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if nm == nil {
			nm = make(map[string]any)
		}

		// Earlier files fill in whatever the later file leaves unset.
		if err := mergo.Merge(&nm, m, mergo.WithAppendSlice); err != nil {
			return err
		}
		m = nm
	}
	c.Settings = m
	return nil
}
