package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/LaurentvdBos/podder/pkg/errkind"
)

const (
	parentFile = "parent"
	configFile = "config.ini"
	rootDir    = "root"
	pidFile    = "init.pid"
	layersDir  = "layers"
)

// Layer is a handle onto one entry of the layer store: a directory holding
// its own filesystem content (root/), its own config.ini, and a pointer to
// its parent layer (parent), if any.
type Layer struct {
	store *Store
	Name  string
}

// Path returns the layer's directory.
func (l *Layer) Path() string { return l.store.layerPath(l.Name) }

// RootPath returns the directory holding this layer's own filesystem
// content, used as one element of an overlay lowerdir stack.
func (l *Layer) RootPath() string { return filepath.Join(l.Path(), rootDir) }

// ConfigPath returns this layer's own config.ini, as distinct from any
// ancestor's.
func (l *Layer) ConfigPath() string { return filepath.Join(l.Path(), configFile) }

// Parent returns the name of this layer's parent, or "" if it is a root
// layer.
func (l *Layer) Parent() (string, error) {
	b, err := os.ReadFile(filepath.Join(l.Path(), parentFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errkind.Wrap(errkind.Unknown, "read parent", l.Name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// OwnConfig returns this layer's own config.ini contents, unmerged with any
// ancestor.
func (l *Layer) OwnConfig() (Config, error) {
	cfg, err := loadConfig(l.ConfigPath())
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigInvalid, "load config", l.Name, err)
	}
	return cfg, nil
}

// SetOwnConfig overwrites this layer's own config.ini.
func (l *Layer) SetOwnConfig(cfg Config) error {
	return saveConfig(l.ConfigPath(), cfg)
}

func isValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
