// Package store implements the layer store (spec §3): a content directory
// per layer, chained to an optional parent, each carrying its own
// config.ini fragment that folds with its ancestors' into the effective
// configuration a container is launched with.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/LaurentvdBos/podder/pkg/syfs"
)

// Store is a handle onto the layer directory tree rooted at Root.
type Store struct {
	Root string
}

// Open returns a Store rooted at the resolved store root (syfs.StoreRoot),
// creating the layers directory if it does not yet exist.
func Open() (*Store, error) {
	return New(syfs.StoreRoot())
}

// New returns a Store rooted at root.
func New(root string) (*Store, error) {
	s := &Store{Root: root}
	if err := os.MkdirAll(s.layersRoot(), 0o755); err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "open store", root, err)
	}
	return s, nil
}

func (s *Store) layersRoot() string           { return filepath.Join(s.Root, layersDir) }
func (s *Store) layerPath(name string) string { return filepath.Join(s.layersRoot(), name) }

// Resolve returns a handle onto an existing layer, or a NotFound error.
func (s *Store) Resolve(name string) (*Layer, error) {
	if !isValidName(name) {
		return nil, errkind.New(errkind.NotFound, "resolve layer", name)
	}
	if _, err := os.Stat(s.layerPath(name)); err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.New(errkind.NotFound, "resolve layer", name)
		}
		return nil, errkind.Wrap(errkind.Unknown, "resolve layer", name, err)
	}
	return &Layer{store: s, Name: name}, nil
}

// Exists reports whether a layer exists without erroring on absence.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.layerPath(name))
	return err == nil
}

// Create adds a new layer named name, with parent as its parent ("" for a
// root layer), initialised with cfg as its own config. Creation is atomic:
// the layer only becomes visible (by name) once fully populated, via a
// build-in-temp-then-rename sequence.
func (s *Store) Create(name, parent string, cfg Config) (*Layer, error) {
	if !isValidName(name) {
		return nil, errkind.New(errkind.ConfigInvalid, "create layer", name)
	}
	if s.Exists(name) {
		return nil, errkind.New(errkind.Exists, "create layer", name)
	}
	if parent != "" {
		if !s.Exists(parent) {
			return nil, errkind.New(errkind.BrokenParent, "create layer", name)
		}
	}
	if cfg == nil {
		cfg = emptyConfig()
	}

	tmp, err := os.MkdirTemp(s.layersRoot(), ".tmp-"+name+"-")
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "create layer", name, err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(tmp)
		}
	}()

	if err := os.Mkdir(filepath.Join(tmp, rootDir), 0o755); err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "create layer", name, err)
	}
	if parent != "" {
		if err := os.WriteFile(filepath.Join(tmp, parentFile), []byte(parent), 0o644); err != nil {
			return nil, errkind.Wrap(errkind.Unknown, "create layer", name, err)
		}
	}
	if err := saveConfig(filepath.Join(tmp, configFile), cfg); err != nil {
		return nil, errkind.Wrap(errkind.ConfigInvalid, "create layer", name, err)
	}

	dst := s.layerPath(name)
	if err := os.Rename(tmp, dst); err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "create layer", name, err)
	}
	cleanup = false

	sylog.Debugf("created layer %s (parent=%q)", name, parent)
	return &Layer{store: s, Name: name}, nil
}

// Chain returns the ancestry of name, ordered from the root-most ancestor
// to name itself (the order a mount planner stacks overlay lowerdirs in).
// A parent pointer that does not resolve is a BrokenParent error; a parent
// pointer that eventually points back at an ancestor already seen is a
// Cycle error.
func (s *Store) Chain(name string) ([]string, error) {
	var reversed []string
	seen := map[string]bool{}

	cur := name
	for cur != "" {
		if seen[cur] {
			return nil, errkind.New(errkind.Cycle, "resolve chain", name)
		}
		seen[cur] = true

		if !s.Exists(cur) {
			if cur == name {
				return nil, errkind.New(errkind.NotFound, "resolve chain", name)
			}
			return nil, errkind.New(errkind.BrokenParent, "resolve chain", name)
		}

		reversed = append(reversed, cur)
		l := &Layer{store: s, Name: cur}
		parent, err := l.Parent()
		if err != nil {
			return nil, err
		}
		cur = parent
	}

	chain := make([]string, len(reversed))
	for i, n := range reversed {
		chain[len(reversed)-1-i] = n
	}
	return chain, nil
}

// EffectiveConfig returns the fold of every ancestor's own config onto
// name's own config, root-most first, so that name's own settings take
// precedence over anything it inherited (spec §3).
func (s *Store) EffectiveConfig(name string) (Config, error) {
	chain, err := s.Chain(name)
	if err != nil {
		return nil, err
	}

	cfg := emptyConfig()
	for _, n := range chain {
		l := &Layer{store: s, Name: n}
		own, err := l.OwnConfig()
		if err != nil {
			return nil, err
		}
		cfg = merge(cfg, own)
	}
	return cfg, nil
}

// Children returns the names of layers whose parent is name.
func (s *Store) Children(name string) ([]string, error) {
	entries, err := os.ReadDir(s.layersRoot())
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "list children", name, err)
	}

	var children []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		l := &Layer{store: s, Name: e.Name()}
		parent, err := l.Parent()
		if err != nil {
			continue
		}
		if parent == name {
			children = append(children, e.Name())
		}
	}
	return children, nil
}

// Remove deletes a layer. It refuses to remove a layer with children
// (HasChildren) or a currently running layer (InUse); a caller wanting to
// force either must remove the children, or stop the container, first.
func (s *Store) Remove(name string) error {
	l, err := s.Resolve(name)
	if err != nil {
		return err
	}

	running, _, err := s.IsRunning(name)
	if err != nil {
		return err
	}
	if running {
		return errkind.New(errkind.InUse, "remove layer", name)
	}

	children, err := s.Children(name)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errkind.New(errkind.HasChildren, "remove layer", name)
	}

	if err := os.RemoveAll(l.Path()); err != nil {
		return errkind.Wrap(errkind.Unknown, "remove layer", name, err)
	}
	sylog.Debugf("removed layer %s", name)
	return nil
}

// List returns the names of every layer in the store, in no particular
// order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.layersRoot())
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "list layers", s.Root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// SetRunning records name's init PID, failing with AlreadyRunning if the
// layer already has one recorded. The PID file is created with O_EXCL so
// two concurrent starts can race safely: exactly one wins.
func (s *Store) SetRunning(name string, pid int) error {
	l, err := s.Resolve(name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(l.Path(), pidFile), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errkind.New(errkind.AlreadyRunning, "start layer", name)
		}
		return errkind.Wrap(errkind.Unknown, "start layer", name, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		return errkind.Wrap(errkind.Unknown, "start layer", name, err)
	}
	return nil
}

// ClearRunning removes the recorded init PID, if any. It is not an error to
// clear a layer that has no recorded PID.
func (s *Store) ClearRunning(name string) error {
	l, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.Path(), pidFile)); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.Unknown, "stop layer", name, err)
	}
	return nil
}

// IsRunning reports whether name has a recorded init PID that still
// corresponds to a live process, self-healing (clearing) a stale record
// whose process has exited without going through ClearRunning.
func (s *Store) IsRunning(name string) (bool, int, error) {
	l, err := s.Resolve(name)
	if err != nil {
		return false, 0, err
	}

	b, err := os.ReadFile(filepath.Join(l.Path(), pidFile))
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, errkind.Wrap(errkind.Unknown, "check running", name, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return false, 0, nil
	}

	if !processAlive(pid) {
		sylog.Debugf("clearing stale init.pid for %s (pid %d no longer alive)", name, pid)
		_ = s.ClearRunning(name)
		return false, 0, nil
	}

	return true, pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes existence and
	// permission without affecting the target.
	return proc.Signal(syscall.Signal(0)) == nil
}
