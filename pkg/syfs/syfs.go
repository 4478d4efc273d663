// Package syfs resolves podder's on-disk locations, following the same
// environment-then-home fallback the teacher's own syfs package uses for
// its configuration directory.
package syfs

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/LaurentvdBos/podder/pkg/sylog"
)

const (
	// EnvStoreRoot overrides the layer store root directory.
	EnvStoreRoot = "PODDER_STORE"
	appDirName   = "podder"
)

var once struct {
	sync.Once
	root string
}

var runOnce struct {
	sync.Once
	root string
}

// StoreRoot returns the directory under which all layers are stored:
// $PODDER_STORE, else $XDG_DATA_HOME/podder, else ~/.local/share/podder.
func StoreRoot() string {
	once.Do(func() {
		once.root = resolveStoreRoot()
		sylog.Debugf("Using store root %q", once.root)
	})
	return once.root
}

func resolveStoreRoot() string {
	if root := os.Getenv(EnvStoreRoot); root != "" {
		return root
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}

	home := os.Getenv("HOME")
	if home == "" {
		if u, err := user.Current(); err == nil {
			home = u.HomeDir
		} else {
			sylog.Warningf("Could not determine home directory: %s", err)
		}
	}

	return filepath.Join(home, ".local", "share", appDirName)
}

// RunRoot returns the directory a container's overlay mount target and
// ephemeral tmpfs backing are created under: $XDG_RUNTIME_DIR/podder, else
// a uid-scoped directory under the system temp dir.
func RunRoot() string {
	runOnce.Do(func() {
		runOnce.root = resolveRunRoot()
		sylog.Debugf("Using run root %q", runOnce.root)
	})
	return runOnce.root
}

func resolveRunRoot() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", appDirName, os.Getuid()))
}
