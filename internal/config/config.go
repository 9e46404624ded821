// Package config parses the master's engine configuration string and,
// optionally, an on-disk YAML override file for the handful of knobs
// that are safe to tune without rebinding a listener.
//
// Grounded on the Manager/Load/merge shape of the teacher's own
// internal/config/config.go, adapted from a JSON user/project settings
// merge to the comma-separated engine string required by the protocol,
// plus a YAML override layer watched live via fsnotify.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrMissingSlavePort is returned by ParseEngine when the required
// slave_port key is absent.
var ErrMissingSlavePort = errors.New("config: slave_port is required")

const (
	defaultMaxSlaves = 100
)

// Engine is the parsed `--engine` string: slave_port=PORT[,proxy_port=PORT][,max_slaves=N][,slaves_quit=0|1]
type Engine struct {
	SlavePort  int
	ProxyPort  int // 0 means "not configured"
	MaxSlaves  int
	SlavesQuit bool
}

// ParseEngine parses the comma-separated key=value engine string. Keys
// are matched exactly as the protocol names them; unknown keys are
// rejected so a typo'd flag fails fast instead of silently no-opping.
func ParseEngine(spec string) (Engine, error) {
	e := Engine{MaxSlaves: defaultMaxSlaves}
	sawSlavePort := false

	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return Engine{}, fmt.Errorf("config: malformed engine field %q", field)
		}
		key, val := kv[0], kv[1]
		switch key {
		case "slave_port":
			p, err := strconv.Atoi(val)
			if err != nil {
				return Engine{}, fmt.Errorf("config: malformed slave_port %q: %w", val, err)
			}
			e.SlavePort = p
			sawSlavePort = true
		case "proxy_port":
			p, err := strconv.Atoi(val)
			if err != nil {
				return Engine{}, fmt.Errorf("config: malformed proxy_port %q: %w", val, err)
			}
			e.ProxyPort = p
		case "max_slaves":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Engine{}, fmt.Errorf("config: malformed max_slaves %q: %w", val, err)
			}
			e.MaxSlaves = n
		case "slaves_quit":
			e.SlavesQuit = val == "1"
		default:
			return Engine{}, fmt.Errorf("config: unrecognized engine field %q", key)
		}
	}

	if !sawSlavePort {
		return Engine{}, ErrMissingSlavePort
	}
	return e, nil
}

// overrides is the subset of Engine that may be hot-reloaded from a
// YAML file. slave_port/proxy_port are listener-bound at startup and
// deliberately excluded.
type overrides struct {
	MaxSlaves  *int  `yaml:"max_slaves"`
	SlavesQuit *bool `yaml:"slaves_quit"`
}

// Watcher holds the live, possibly-overridden Engine config, refreshed
// from an on-disk YAML file whenever fsnotify reports it changed.
type Watcher struct {
	mu   sync.RWMutex
	base Engine
	path string

	watcher *fsnotify.Watcher
	log     Logger
}

// Logger is the minimal logging surface Watcher needs, satisfied by
// *slog.Logger without importing it directly into this file's public API.
type Logger interface {
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// WatchOverrides starts watching path for a YAML overrides file. If
// path is empty, no file is watched and Current always returns base.
// A missing file is not an error — it simply means no overrides are
// in effect yet.
func WatchOverrides(path string, base Engine, log Logger) (*Watcher, error) {
	w := &Watcher{base: base, path: path, log: log}
	if path == "" {
		return w, nil
	}

	w.reload()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: start fsnotify watcher: %w", err)
	}
	// Watch the containing directory rather than the file itself, so an
	// override file created after startup is still picked up.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		log.Warn("config: could not watch override file", "path", path, "err", err)
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: override watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}
	var o overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		w.log.Warn("config: malformed override file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if o.MaxSlaves != nil {
		w.base.MaxSlaves = *o.MaxSlaves
	}
	if o.SlavesQuit != nil {
		w.base.SlavesQuit = *o.SlavesQuit
	}
	w.mu.Unlock()
	w.log.Info("config: reloaded overrides", "path", w.path)
}

// Current returns the effective Engine config: the startup base with
// any live overrides applied.
func (w *Watcher) Current() Engine {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.base
}

// MaxSlaves returns the live max_slaves value, for callers that want a
// single knob rather than the whole Engine snapshot (master.Engine
// wires this straight into session.Manager's connection cap).
func (w *Watcher) MaxSlaves() int {
	return w.Current().MaxSlaves
}

// SlavesQuit returns the live slaves_quit value, consulted each time
// the upstream "quit" verb is handled rather than copied in once at
// startup.
func (w *Watcher) SlavesQuit() bool {
	return w.Current().SlavesQuit
}

// Close stops the background watch goroutine, if one was started.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
