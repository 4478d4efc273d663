// Package lifecycle implements C6, the lifecycle tracker: it consults and
// acts on the init PID a layer's store entry records, determining whether
// a container is still running and driving it through a graceful-then-forced
// shutdown.
package lifecycle

import (
	"syscall"
	"time"

	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/store"
	"github.com/LaurentvdBos/podder/pkg/sylog"
)

// State is the result of Status.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "Running"
	}
	return "Stopped"
}

// Status reports whether name's init process is still alive, self-healing
// a stale PID record as store.IsRunning does.
func Status(s *store.Store, name string) (State, int, error) {
	running, pid, err := s.IsRunning(name)
	if err != nil {
		return Stopped, 0, err
	}
	if running {
		return Running, pid, nil
	}
	return Stopped, 0, nil
}

// DefaultTimeout is how long Stop waits for sig before escalating to
// SIGKILL, when the caller passes zero.
const DefaultTimeout = 10 * time.Second

// Stop signals name's init process with sig (SIGTERM if zero), waits up to
// timeout (DefaultTimeout if zero) for it to exit, force-kills it with
// SIGKILL if it hasn't, then clears the recorded PID either way once the
// process is confirmed gone.
func Stop(s *store.Store, name string, sig syscall.Signal, timeout time.Duration) error {
	running, pid, err := s.IsRunning(name)
	if err != nil {
		return err
	}
	if !running {
		return s.ClearRunning(name)
	}

	if sig == 0 {
		sig = syscall.SIGTERM
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	sylog.Debugf("stopping %s (pid %d) with %s", name, pid, sig)
	if err := syscall.Kill(pid, sig); err != nil && err != syscall.ESRCH {
		return errkind.Wrap(errkind.Unknown, "stop", name, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return s.ClearRunning(name)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if processAlive(pid) {
		sylog.Debugf("%s (pid %d) did not exit within %s, sending SIGKILL", name, pid, timeout)
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return errkind.Wrap(errkind.Unknown, "kill", name, err)
		}
		for processAlive(pid) {
			time.Sleep(20 * time.Millisecond)
		}
	}

	return s.ClearRunning(name)
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
