package main

import (
	"fmt"
	"path/filepath"

	"github.com/LaurentvdBos/podder/internal/pkg/launch"
	"github.com/LaurentvdBos/podder/internal/pkg/macvlan"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/store"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/LaurentvdBos/podder/pkg/syfs"
)

// StartCmd implements "podder start NAME": it resolves name's layer chain
// and effective config, launches the namespace set, and records the
// resulting PID before returning (spec §5: blocks until PID 1 is exec'd,
// not until it exits).
type StartCmd struct {
	Name string `arg:"" help:"layer to launch"`
}

func (c *StartCmd) Run(ctx *Context) error {
	s := ctx.Store

	running, _, err := s.IsRunning(c.Name)
	if err != nil {
		return err
	}
	if running {
		return errkind.New(errkind.AlreadyRunning, "start", c.Name)
	}

	chain, err := s.Chain(c.Name)
	if err != nil {
		return err
	}
	cfg, err := s.EffectiveConfig(c.Name)
	if err != nil {
		return err
	}

	// Chain is root-most ancestor first; overlay lowerdir priority goes to
	// the earliest entry, so the leaf (the layer actually launched) must
	// be listed first.
	lowerDirs := make([]string, len(chain))
	var leaf *store.Layer
	for i, n := range chain {
		l, err := s.Resolve(n)
		if err != nil {
			return err
		}
		lowerDirs[len(chain)-1-i] = l.RootPath()
		if n == c.Name {
			leaf = l
		}
	}

	command, err := cfg.Command()
	if err != nil {
		return err
	}

	// A non-ephemeral layer writes persistently into its own root/, with a
	// sibling work/ directory overlayfs requires on the same filesystem
	// (spec §4.4); an ephemeral one gets a throwaway tmpfs pair instead, so
	// UpperDir/WorkDir are left empty for mountplan to fill in.
	var upperDir, workDir string
	if !cfg.Ephemeral() {
		upperDir = leaf.RootPath()
		workDir = filepath.Join(leaf.Path(), "run", "work")
	}

	uid, gid := cfg.User()
	runDir := filepath.Join(syfs.RunRoot(), c.Name)

	handle, err := launch.Start(launch.Request{
		LowerDirs: lowerDirs,
		Target:    filepath.Join(runDir, "root"),
		UpperDir:  upperDir,
		WorkDir:   workDir,
		Ephemeral: cfg.Ephemeral(),
		Command:   command,
		Env:       cfg.Env(),
		Workdir:   cfg.Workdir(),
		Hostname:  cfg.Hostname(c.Name),
		UID:       uid,
		GID:       gid,
		NetHost:   cfg.NetHost(),
	})
	if err != nil {
		return err
	}

	if err := s.SetRunning(c.Name, handle.PID); err != nil {
		_ = handle.Kill()
		return err
	}

	if iface, mac := cfg.Macvlan(); iface != "" {
		if err := macvlan.Attach(iface, handle.PID, mac); err != nil {
			sylog.Warningf("macvlan attach failed: %s", err)
		}
	}

	fmt.Println(handle.PID)
	return nil
}
