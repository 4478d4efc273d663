// Package subid reads /etc/subuid and /etc/subgid and turns a user's
// subordinate ID ranges into the mapping a namespace launcher applies to a
// freshly created user namespace.
//
// The files may list more than one range for the same user (one entry per
// delegation, potentially added by different tools over the user's
// lifetime); every matching range is concatenated into the container's ID
// space rather than only the first, which is the behaviour subuid parsers
// commonly get wrong.
package subid

import (
	"bufio"
	"os"
	"os/exec"
	"os/user"
	"sort"
	"strconv"
	"strings"

	"github.com/LaurentvdBos/podder/internal/pkg/bin"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/opencontainers/runtime-spec/specs-go"
)

const (
	SubUIDFile = "/etc/subuid"
	SubGIDFile = "/etc/subgid"
)

// Range is one subordinate ID delegation.
type Range struct {
	Start uint32
	Count uint32
}

// ReadRanges returns every range in path (/etc/subuid or /etc/subgid)
// delegated to u, matched by username or by numeric UID (the file format
// allows either as the first field), sorted by Start.
func ReadRanges(path string, u *user.User) ([]Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "read subordinate ID file", path, err)
	}
	defer f.Close()

	var ranges []Range
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			continue
		}
		if fields[0] != u.Username && fields[0] != u.Uid {
			continue
		}
		start, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}
		count, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		ranges = append(ranges, Range{Start: uint32(start), Count: uint32(count)})
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "read subordinate ID file", path, err)
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges, nil
}

// Mappings concatenates ranges into a contiguous container-side ID space
// starting at container ID 1 (container ID 0 is reserved for the caller's
// own ID, mapped separately so the namespace-creating user retains
// ownership of anything it creates before the ID map switches over).
func Mappings(ranges []Range) []specs.LinuxIDMapping {
	mappings := make([]specs.LinuxIDMapping, 0, len(ranges))
	var next uint32 = 1
	for _, r := range ranges {
		if r.Count == 0 {
			continue
		}
		mappings = append(mappings, specs.LinuxIDMapping{
			ContainerID: next,
			HostID:      r.Start,
			Size:        r.Count,
		})
		next += r.Count
	}
	return mappings
}

// MappingsFromZero concatenates ranges starting at container ID 0, so
// container UID/GID 0 is the first subordinate ID itself rather than the
// caller's own ID. This is the mapping a layer-extraction namespace wants
// (spec §4.3: "UID/GID 0 inside = the first subordinate ID outside"), as
// opposed to Mappings, which reserves container ID 0 for a self-mapping
// entry because a launched container's caller still needs to own its own
// processes.
func MappingsFromZero(ranges []Range) []specs.LinuxIDMapping {
	mappings := make([]specs.LinuxIDMapping, 0, len(ranges))
	var next uint32
	for _, r := range ranges {
		if r.Count == 0 {
			continue
		}
		mappings = append(mappings, specs.LinuxIDMapping{
			ContainerID: next,
			HostID:      r.Start,
			Size:        r.Count,
		})
		next += r.Count
	}
	return mappings
}

// SelfMapping returns the single-entry mapping available to every
// unprivileged user without any subordinate ID delegation: container ID 0
// mapped to the caller's own ID, size 1. Used as the always-present ID 0
// entry alongside Mappings.
func SelfMapping(id uint32) specs.LinuxIDMapping {
	return specs.LinuxIDMapping{ContainerID: 0, HostID: id, Size: 1}
}

// FormatNewIDMapArgs renders the mapping triples newuidmap/newgidmap expect
// after the target PID: "containerID hostID size" repeated, flattened.
func FormatNewIDMapArgs(pid int, mappings []specs.LinuxIDMapping) []string {
	args := make([]string, 0, 1+3*len(mappings))
	args = append(args, strconv.Itoa(pid))
	for _, m := range mappings {
		args = append(args,
			strconv.FormatUint(uint64(m.ContainerID), 10),
			strconv.FormatUint(uint64(m.HostID), 10),
			strconv.FormatUint(uint64(m.Size), 10),
		)
	}
	return args
}

// ApplyNewIDMap invokes cmdName (newuidmap or newgidmap) against pid with
// mappings, the setuid helper path every caller without CAP_SETUID needs to
// install more than a single self-mapping entry into a user namespace it
// does not own.
func ApplyNewIDMap(cmdName string, pid int, mappings []specs.LinuxIDMapping) error {
	path, err := bin.FindBin(cmdName)
	if err != nil {
		return err
	}

	out, err := exec.Command(path, FormatNewIDMapArgs(pid, mappings)...).CombinedOutput()
	if err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, cmdName, string(out), err)
	}
	return nil
}

// CurrentUser wraps user.Current with podder's error vocabulary.
func CurrentUser() (*user.User, error) {
	u, err := user.Current()
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, "look up current user", "", err)
	}
	return u, nil
}
