// Package macvlan invokes the out-of-process, CAP_NET_ADMIN-privileged
// podder-netshim helper that attaches a macvlan interface inside a running
// container's network namespace. The core process never touches netlink
// itself, since doing so would require a capability podder's own launcher
// must not demand.
package macvlan

import (
	"os/exec"
	"strconv"

	"github.com/LaurentvdBos/podder/internal/pkg/bin"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/sylog"
)

// Attach runs podder-netshim against the running container identified by
// pid, asking it to create a macvlan slave of the host interface iface,
// optionally assigning mac. It speaks no protocol to the helper beyond argv
// and exit status: a non-zero exit means the helper already printed its
// own strerror-derived message to stderr.
func Attach(iface string, pid int, mac string) error {
	path, err := bin.FindBin("podder-netshim")
	if err != nil {
		return err
	}

	args := []string{iface, strconv.Itoa(pid)}
	if mac != "" {
		args = append(args, mac)
	}

	sylog.Debugf("attaching macvlan %s to pid %d", iface, pid)
	cmd := exec.Command(path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "attach macvlan", string(out), err)
	}
	return nil
}
