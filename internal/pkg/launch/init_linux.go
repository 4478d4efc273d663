package launch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/LaurentvdBos/podder/internal/pkg/mountplan"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"golang.org/x/sys/unix"
)

// RunInit is the entry point run inside the freshly cloned namespaces. It
// never returns on success: it execs req.Command as PID 1. Any error is
// also written to fd 4 (the pre-created error pipe the parent reads from)
// before returning, so Start can report a setup or exec failure instead of
// blocking forever; a successful exec closes that fd with nothing written,
// since it was marked close-on-exec.
func RunInit() error {
	errW := os.NewFile(4, "errpipe")
	if errW != nil {
		unix.CloseOnExec(4)
	}

	err := runInit()
	if err != nil && errW != nil {
		errW.WriteString(err.Error())
	}
	return err
}

func runInit() error {
	specPath := os.Getenv(EnvSpecPath)
	if specPath == "" {
		return errkind.New(errkind.NamespaceSetupFailed, "read init spec", "")
	}
	b, err := os.ReadFile(specPath)
	if err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "read init spec", specPath, err)
	}
	os.Remove(specPath)

	var spec Spec
	if err := json.Unmarshal(b, &spec); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "parse init spec", specPath, err)
	}

	if spec.SyncFD {
		if err := waitForIDMap(); err != nil {
			return err
		}
	}

	if err := unix.Sethostname([]byte(spec.Hostname)); err != nil {
		sylog.Warningf("could not set hostname: %s", err)
	}

	if err := mountplan.Mount(mountplan.Plan{
		LowerDirs: spec.LowerDirs,
		UpperDir:  spec.UpperDir,
		WorkDir:   spec.WorkDir,
		Ephemeral: spec.Ephemeral,
		Target:    spec.Target,
	}); err != nil {
		return err
	}

	if err := mountplan.MountAuxiliary(spec.Target, spec.NetHost); err != nil {
		return err
	}

	if err := pivotInto(spec.Target); err != nil {
		return err
	}

	if err := dropCapabilities(); err != nil {
		sylog.Warningf("could not drop capabilities: %s", err)
	}

	gid := int(spec.GID)
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "setresgid", "", err)
	}
	uid := int(spec.UID)
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "setresuid", "", err)
	}

	workdir := spec.Workdir
	if workdir == "" {
		workdir = "/"
	}
	if err := unix.Chdir(workdir); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "chdir "+workdir, "", err)
	}

	command := spec.Command
	if len(command) == 0 {
		command = []string{"/bin/sh"}
	}
	argv0, err := lookPathIn(command[0], spec.Env)
	if err != nil {
		return errkind.Wrap(errkind.ExecFailed, "locate "+command[0], "", err)
	}

	sylog.Debugf("execing %v", command)
	if err := syscall.Exec(argv0, command, spec.Env); err != nil {
		return errkind.Wrap(errkind.ExecFailed, "exec "+argv0, "", err)
	}
	return nil
}

// waitForIDMap blocks on fd 3 until the parent closes its write end,
// signalling that newuidmap/newgidmap have finished applying the
// subordinate ID mapping.
func waitForIDMap() error {
	f := os.NewFile(3, "sync")
	defer f.Close()
	buf := make([]byte, 1)
	_, _ = f.Read(buf)
	return nil
}

// pivotInto makes target the process's new root, following the same
// pivot_root dance apptainer's RPC server chroot method uses: hold a
// reference to the old root, pivot, return to the old root via the held
// fd, mark it private/slave so its unmount doesn't propagate, then detach
// it.
func pivotInto(target string) error {
	oldroot, err := os.Open("/")
	if err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "open host root", "", err)
	}
	defer oldroot.Close()

	if err := unix.Chdir(target); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "chdir "+target, "", err)
	}

	if err := unix.PivotRoot(".", "."); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "pivot_root", target, err)
	}

	if err := unix.Fchdir(int(oldroot.Fd())); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "return to old root", "", err)
	}

	if err := unix.Mount("", ".", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "mark old root private", "", err)
	}

	if err := unix.Unmount(".", unix.MNT_DETACH); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "detach old root", "", err)
	}

	if err := unix.Chdir("/"); err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "chdir /", "", err)
	}
	return nil
}

func lookPathIn(file string, env []string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	path := ""
	for _, kv := range env {
		if len(kv) > 5 && kv[:5] == "PATH=" {
			path = kv[5:]
		}
	}
	if path == "" {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	for _, dir := range filepath.SplitList(path) {
		candidate := filepath.Join(dir, file)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: not found in PATH", file)
}
