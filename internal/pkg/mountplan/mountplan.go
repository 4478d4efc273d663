// Package mountplan implements C4, the mount planner: it assembles an
// overlayfs view out of a layer chain and lays down the auxiliary mounts
// (/proc, /sys, /dev, /dev/pts, /run) a launched container needs, all from
// inside the mount namespace the namespace launcher has already entered.
package mountplan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"golang.org/x/sys/unix"
)

// statfs is replaced in tests to avoid requiring a real overlay-incompatible
// filesystem to exercise CheckLower/CheckUpper.
var statfs = unix.Statfs

// Plan describes the overlay and auxiliary mounts for one container launch.
type Plan struct {
	// LowerDirs is the layer chain's root/ directories, root-most ancestor
	// last (kernel overlayfs gives earlier lowerdir entries priority, so
	// the leaf layer — the one actually launched — must come first).
	LowerDirs []string
	// UpperDir and WorkDir are empty for a read-only (non-ephemeral-write)
	// mount; Ephemeral selects a throwaway tmpfs-backed pair instead of a
	// caller-supplied persistent one.
	UpperDir  string
	WorkDir   string
	Ephemeral bool
	// Target is the directory the assembled overlay is mounted at; it
	// becomes the new root for pivot_root.
	Target string
}

const (
	nfsMagic    = 0x6969
	fuseMagic   = 0x65735546
	ecryptMagic = 0xF15F
)

var incompatibleAsUpper = map[int64]string{
	nfsMagic:  "NFS",
	fuseMagic: "FUSE",
}

var incompatibleAsLower = map[int64]string{
	ecryptMagic: "ECRYPT",
}

// CheckUpper rejects filesystems the overlay driver cannot use as an
// upperdir (notably NFS and FUSE).
func CheckUpper(path string) error {
	return checkFs(path, incompatibleAsUpper, "upper")
}

// CheckLower rejects filesystems the overlay driver cannot use as a
// lowerdir.
func CheckLower(path string) error {
	return checkFs(path, incompatibleAsLower, "lower")
}

func checkFs(path string, incompatible map[int64]string, role string) error {
	var st unix.Statfs_t
	if err := statfs(path, &st); err != nil {
		return errkind.Wrap(errkind.MountFailed, "statfs", path, err)
	}
	if name, ok := incompatible[int64(st.Type)]; ok {
		return errkind.New(errkind.MountFailed, fmt.Sprintf("%s is on %s, incompatible as overlay %s directory", path, name, role), path)
	}
	return nil
}

// Mount assembles the overlay at p.Target. It must run after the caller
// has already unshared (or joined) the mount namespace it wants the mount
// to land in.
func Mount(p Plan) error {
	if len(p.LowerDirs) == 0 {
		return errkind.New(errkind.MountFailed, "mount overlay", p.Target)
	}

	upper, work := p.UpperDir, p.WorkDir
	if p.Ephemeral {
		tmp, err := ephemeralUpper(p.Target)
		if err != nil {
			return err
		}
		upper, work = tmp.upper, tmp.work
	}

	for _, l := range p.LowerDirs {
		if err := CheckLower(l); err != nil {
			return err
		}
	}

	readOnly := upper == ""

	if err := os.MkdirAll(p.Target, 0o755); err != nil {
		return errkind.Wrap(errkind.MountFailed, "mkdir overlay target", p.Target, err)
	}

	opts := "lowerdir=" + strings.Join(p.LowerDirs, ":") + ",userxattr"
	if !readOnly {
		if err := os.MkdirAll(upper, 0o755); err != nil {
			return errkind.Wrap(errkind.MountFailed, "mkdir upper", upper, err)
		}
		if err := os.MkdirAll(work, 0o755); err != nil {
			return errkind.Wrap(errkind.MountFailed, "mkdir work", work, err)
		}
		if err := CheckUpper(filepath.Dir(upper)); err != nil {
			return err
		}
		opts += fmt.Sprintf(",upperdir=%s,workdir=%s", upper, work)
	}

	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV)
	if err := unix.Mount("overlay", p.Target, "overlay", flags, opts); err != nil {
		return errkind.Wrap(errkind.MountFailed, "mount overlay", p.Target, err)
	}

	sylog.Debugf("mounted overlay at %s (%d lowerdirs, upper=%q)", p.Target, len(p.LowerDirs), upper)
	return nil
}

type ephemeralDirs struct{ upper, work string }

// ephemeralUpper creates a private tmpfs at .podder-tmpfs-<name> beside
// target (name being target's last path element) with upper/ and work/
// subdirectories, the default ephemeral-write backing
// (spec §5): the container's writes vanish with the mount namespace.
func ephemeralUpper(target string) (ephemeralDirs, error) {
	base := filepath.Join(filepath.Dir(target), ".podder-tmpfs-"+filepath.Base(target))
	if err := os.MkdirAll(base, 0o700); err != nil {
		return ephemeralDirs{}, errkind.Wrap(errkind.MountFailed, "mkdir tmpfs backing", base, err)
	}
	if err := unix.Mount("tmpfs", base, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "mode=0700"); err != nil {
		return ephemeralDirs{}, errkind.Wrap(errkind.MountFailed, "mount ephemeral tmpfs", base, err)
	}

	upper := filepath.Join(base, "upper")
	work := filepath.Join(base, "work")
	if err := os.Mkdir(upper, 0o755); err != nil {
		return ephemeralDirs{}, errkind.Wrap(errkind.MountFailed, "mkdir upper", upper, err)
	}
	if err := os.Mkdir(work, 0o755); err != nil {
		return ephemeralDirs{}, errkind.Wrap(errkind.MountFailed, "mkdir work", work, err)
	}
	return ephemeralDirs{upper: upper, work: work}, nil
}

// MountAuxiliary lays down /proc, /sys, /dev, /dev/pts and /run inside
// root, which must already be the overlay's mount point (spec §5). It is
// called inside the container's own mount namespace before pivot_root, while
// the host's /sys and /dev are still reachable as bind sources; the mounts
// it makes under root become the new root's /proc, /sys, /dev and /run.
func MountAuxiliary(root string, netHost bool) error {
	dirs := []string{"proc", "sys", "dev", "dev/pts", "dev/shm", "run"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return errkind.Wrap(errkind.MountFailed, "mkdir "+d, root, err)
		}
	}

	mounts := []struct {
		source, target, fstype, data string
		flags                        uintptr
	}{
		{"proc", filepath.Join(root, "proc"), "proc", "", unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC},
		{"tmpfs", filepath.Join(root, "dev"), "tmpfs", "mode=0755", unix.MS_NOSUID},
		{"devpts", filepath.Join(root, "dev/pts"), "devpts", "newinstance,ptmxmode=0666,mode=0620", unix.MS_NOSUID | unix.MS_NOEXEC},
		{"tmpfs", filepath.Join(root, "dev/shm"), "tmpfs", "mode=1777", unix.MS_NOSUID | unix.MS_NODEV},
		{"tmpfs", filepath.Join(root, "run"), "tmpfs", "mode=0755", unix.MS_NOSUID | unix.MS_NODEV},
	}
	for _, m := range mounts {
		if err := unix.Mount(m.source, m.target, m.fstype, m.flags, m.data); err != nil {
			return errkind.Wrap(errkind.MountFailed, "mount "+m.target, m.target, err)
		}
	}

	if err := bindSysfs(root, netHost); err != nil {
		return err
	}
	if err := bindMinimalDevices(root); err != nil {
		return err
	}
	return nil
}

// bindSysfs provides a read-only /sys. With net=host it bind-mounts the
// host's /sys. A network-namespaced container first gets a fresh "sysfs"
// mount; where the kernel refuses that, it falls back to bind-mounting the
// host's view, the same approach runc and similar tools fall back to.
// Either way the result is remounted read-only.
func bindSysfs(root string, netHost bool) error {
	target := filepath.Join(root, "sys")
	if netHost {
		if err := unix.Mount("/sys", target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return errkind.Wrap(errkind.MountFailed, "bind /sys", target, err)
		}
	} else if err := unix.Mount("sysfs", target, "sysfs", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		if err := unix.Mount("/sys", target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return errkind.Wrap(errkind.MountFailed, "bind /sys", target, err)
		}
	}
	return unix.Mount("", target, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY|unix.MS_REC, "")
}

var minimalDevices = []string{"null", "zero", "full", "random", "urandom", "tty", "ptmx"}

// bindMinimalDevices bind-mounts a handful of host device nodes into the
// tmpfs-backed /dev, since the container's mount namespace has no device
// driver backing to mknod real ones against.
func bindMinimalDevices(root string) error {
	for _, name := range minimalDevices {
		src := filepath.Join("/dev", name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(root, "dev", name)
		if err := touch(dst); err != nil {
			return err
		}
		if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
			sylog.Warningf("could not bind %s into container: %s", src, err)
		}
	}
	return nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE, 0o666)
	if err != nil {
		return errkind.Wrap(errkind.MountFailed, "create device mount point", path, err)
	}
	return f.Close()
}
