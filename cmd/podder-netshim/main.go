// Command podder-netshim is the privileged helper that attaches a macvlan
// interface inside a running container's network namespace. It is the only
// part of podder that needs CAP_NET_ADMIN, so it is kept as a separate
// binary rather than folded into the unprivileged core.
//
// Usage: podder-netshim <interface> <pid> [mac]
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/vishvananda/netlink"
)

func main() {
	if len(os.Args) < 3 || len(os.Args) > 4 {
		fmt.Fprintln(os.Stderr, "usage: podder-netshim <interface> <pid> [mac]")
		os.Exit(1)
	}

	iface := os.Args[1]
	pid, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "podder-netshim: invalid pid %q: %s\n", os.Args[2], err)
		os.Exit(1)
	}
	var mac string
	if len(os.Args) == 4 {
		mac = os.Args[3]
	}

	if err := run(iface, pid, mac); err != nil {
		fmt.Fprintf(os.Stderr, "podder-netshim: %s\n", err)
		os.Exit(1)
	}
}

// run looks up the host interface, creates a macvlan slave named
// "macvlan0", optionally assigns mac, and moves it into the network
// namespace of pid in a single NEWLINK request (IFLA_NET_NS_PID).
func run(iface string, pid int, mac string) error {
	parent, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("look up %s: %w", iface, err)
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = "macvlan0"
	attrs.ParentIndex = parent.Attrs().Index
	attrs.Namespace = netlink.NsPid(pid)

	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("parse mac %s: %w", mac, err)
		}
		attrs.HardwareAddr = hw
	}

	link := &netlink.Macvlan{
		LinkAttrs: attrs,
		Mode:      netlink.MACVLAN_MODE_BRIDGE,
	}

	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("create macvlan slave of %s: %w", iface, err)
	}

	return nil
}
