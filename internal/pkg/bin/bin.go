// Package bin locates external helper executables podder shells out to:
// the distro-provided newuidmap/newgidmap setuid helpers used to apply
// subordinate ID mappings, and podder's own privileged netshim helper.
package bin

import (
	"fmt"
	"os/exec"

	"github.com/LaurentvdBos/podder/pkg/errkind"
)

// FindBin returns the absolute path to name, searched for on $PATH.
func FindBin(name string) (string, error) {
	switch name {
	case "newuidmap", "newgidmap":
		return findOnPath(name)
	case "podder-netshim":
		return findOnPath(name)
	}
	return "", fmt.Errorf("unknown executable name %q", name)
}

func findOnPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errkind.Wrap(errkind.NamespaceSetupFailed, "locate "+name, name, err)
	}
	return path, nil
}
