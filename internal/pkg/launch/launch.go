// Package launch implements C5, the namespace launcher: it re-execs
// podder's own binary into a fresh set of namespaces, applies rootless
// UID/GID mapping, hands the child enough state to mount its own root and
// pivot into it, and execs the requested command as PID 1 of the new
// namespaces.
package launch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/LaurentvdBos/podder/internal/pkg/subid"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/opencontainers/runtime-spec/specs-go"
)

// Request describes the container a caller wants launched.
type Request struct {
	LowerDirs []string
	Target    string
	UpperDir  string
	WorkDir   string
	Ephemeral bool

	Command []string
	Env     []string
	Workdir string

	Hostname string
	UID      uint32
	GID      uint32
	NetHost  bool
}

// Handle is a running container's process, as seen by the parent.
type Handle struct {
	PID int
	cmd *exec.Cmd
}

// NetNSPath returns the /proc path to the container's network namespace,
// for a macvlan helper to join.
func (h *Handle) NetNSPath() string {
	return fmt.Sprintf("/proc/%d/ns/net", h.PID)
}

// Wait blocks until the container's init process exits.
func (h *Handle) Wait() error {
	return h.cmd.Wait()
}

// Kill sends SIGKILL to the container's init process, for a caller that
// cannot record a successful launch (e.g. the store's PID file already
// exists for this layer) and needs to tear it back down.
func (h *Handle) Kill() error {
	return h.cmd.Process.Kill()
}

// Start re-execs the current binary into new namespaces and begins
// running req's command as PID 1 of those namespaces. It returns once the
// child has been started, ID-mapped and has either exec'd req.Command (the
// error pipe closed with nothing written) or reported a setup failure; on
// success the child continues running req.Command in the background.
func Start(req Request) (*Handle, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, errkind.Wrap(errkind.NamespaceSetupFailed, "resolve own executable", "", err)
	}

	specFile, err := os.CreateTemp("", "podder-init-spec-")
	if err != nil {
		return nil, errkind.Wrap(errkind.NamespaceSetupFailed, "create init spec", "", err)
	}
	defer os.Remove(specFile.Name())

	u, err := subid.CurrentUser()
	if err != nil {
		return nil, err
	}
	var callerUID, callerGID uint32
	fmt.Sscanf(u.Uid, "%d", &callerUID)
	fmt.Sscanf(u.Gid, "%d", &callerGID)

	uidRanges, _ := subid.ReadRanges(subid.SubUIDFile, u)
	gidRanges, _ := subid.ReadRanges(subid.SubGIDFile, u)

	useHelperMaps := len(uidRanges) > 0 && len(gidRanges) > 0

	spec := Spec{
		LowerDirs: req.LowerDirs,
		Target:    req.Target,
		UpperDir:  req.UpperDir,
		WorkDir:   req.WorkDir,
		Ephemeral: req.Ephemeral,
		Command:   req.Command,
		Env:       req.Env,
		Workdir:   req.Workdir,
		Hostname:  req.Hostname,
		UID:       req.UID,
		GID:       req.GID,
		NetHost:   req.NetHost,
		SyncFD:    useHelperMaps,
	}
	if err := json.NewEncoder(specFile).Encode(&spec); err != nil {
		specFile.Close()
		return nil, errkind.Wrap(errkind.NamespaceSetupFailed, "write init spec", "", err)
	}
	specFile.Close()

	cmd := exec.Command(self, InitArg)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = append(os.Environ(), EnvSpecPath+"="+specFile.Name())

	cloneFlags := uintptr(syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
		syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if !req.NetHost {
		cloneFlags |= syscall.CLONE_NEWNET
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
		Pdeathsig:  syscall.SIGKILL,
	}

	syncR, syncW, err := os.Pipe()
	if err != nil {
		return nil, errkind.Wrap(errkind.NamespaceSetupFailed, "create sync pipe", "", err)
	}
	// errR/errW is the pre-created pipe that carries a setup or exec
	// failure back to the parent: the child marks its end close-on-exec,
	// so a successful syscall.Exec closes it with nothing written, and any
	// failure before that point writes a message before the child exits.
	errR, errW, err := os.Pipe()
	if err != nil {
		syncR.Close()
		syncW.Close()
		return nil, errkind.Wrap(errkind.NamespaceSetupFailed, "create error pipe", "", err)
	}
	cmd.ExtraFiles = []*os.File{syncR, errW}

	if !useHelperMaps {
		cmd.SysProcAttr.UidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: int(callerUID), Size: 1},
		}
		cmd.SysProcAttr.GidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: int(callerGID), Size: 1},
		}
		sylog.Warningf("no subordinate ID ranges delegated to this user; container will only have a single mapped UID/GID")
	}

	if err := cmd.Start(); err != nil {
		syncR.Close()
		syncW.Close()
		errR.Close()
		errW.Close()
		return nil, errkind.Wrap(errkind.NamespaceSetupFailed, "start init process", "", err)
	}
	syncR.Close()
	errW.Close()

	if useHelperMaps {
		if err := applyHelperMaps(cmd.Process.Pid, callerUID, callerGID, uidRanges, gidRanges); err != nil {
			syncW.Close()
			errR.Close()
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, err
		}
	}
	syncW.Close()

	msg, _ := io.ReadAll(errR)
	errR.Close()
	if len(msg) > 0 {
		_ = cmd.Wait()
		return nil, errkind.New(errkind.NamespaceSetupFailed, "container init setup", string(msg))
	}

	sylog.Debugf("started container init as pid %d", cmd.Process.Pid)
	return &Handle{PID: cmd.Process.Pid, cmd: cmd}, nil
}

// applyHelperMaps invokes newuidmap/newgidmap against pid, mapping
// container ID 0 to the caller's own ID (so the caller retains ownership
// visibility) and every subordinate range after it (spec's fix for the
// single-range-only bug: every delegated range is concatenated, not just
// the first).
func applyHelperMaps(pid int, callerUID, callerGID uint32, uidRanges, gidRanges []subid.Range) error {
	uidm := buildMappings(callerUID, uidRanges)
	gidm := buildMappings(callerGID, gidRanges)

	if err := runIDMapHelper("newuidmap", pid, uidm); err != nil {
		return err
	}
	if err := runIDMapHelper("newgidmap", pid, gidm); err != nil {
		return err
	}
	return nil
}

// buildMappings prepends a self-mapping for the caller's own ID (container
// ID 0) to the subordinate ranges delegated to it, so the caller stays
// visible as the owner of container ID 0 and every delegated range is
// concatenated into a contiguous container-side ID space after it.
func buildMappings(selfID uint32, ranges []subid.Range) []specs.LinuxIDMapping {
	return append([]specs.LinuxIDMapping{subid.SelfMapping(selfID)}, subid.Mappings(ranges)...)
}

func runIDMapHelper(name string, pid int, mappings []specs.LinuxIDMapping) error {
	return subid.ApplyNewIDMap(name, pid, mappings)
}
