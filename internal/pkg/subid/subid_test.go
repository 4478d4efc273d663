package subid

import (
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/opencontainers/runtime-spec/specs-go"
)

func writeSubFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subuid")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	return path
}

func TestReadRangesMultipleEntriesConcatenated(t *testing.T) {
	path := writeSubFile(t, `
alice:100000:65536
alice:231072:65536
bob:300000:65536
`)
	u := &user.User{Username: "alice", Uid: "1000"}

	ranges, err := ReadRanges(path, u)
	if err != nil {
		t.Fatalf("ReadRanges: %s", err)
	}
	want := []Range{{Start: 100000, Count: 65536}, {Start: 231072, Count: 65536}}
	if !reflect.DeepEqual(ranges, want) {
		t.Errorf("ranges = %+v, want %+v", ranges, want)
	}
}

func TestReadRangesMatchesByUID(t *testing.T) {
	path := writeSubFile(t, "1000:100000:65536\n")
	u := &user.User{Username: "alice", Uid: "1000"}

	ranges, err := ReadRanges(path, u)
	if err != nil {
		t.Fatalf("ReadRanges: %s", err)
	}
	if len(ranges) != 1 || ranges[0].Start != 100000 {
		t.Errorf("ranges = %+v", ranges)
	}
}

func TestMappingsConcatenatesContiguously(t *testing.T) {
	ranges := []Range{{Start: 100000, Count: 65536}, {Start: 231072, Count: 1000}}
	got := Mappings(ranges)
	want := []specs.LinuxIDMapping{
		{ContainerID: 1, HostID: 100000, Size: 65536},
		{ContainerID: 65537, HostID: 231072, Size: 1000},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Mappings = %+v, want %+v", got, want)
	}
}

func TestFormatNewIDMapArgs(t *testing.T) {
	mappings := []specs.LinuxIDMapping{
		{ContainerID: 0, HostID: 1000, Size: 1},
		{ContainerID: 1, HostID: 100000, Size: 65536},
	}
	got := FormatNewIDMapArgs(4242, mappings)
	want := []string{"4242", "0", "1000", "1", "1", "100000", "65536"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FormatNewIDMapArgs = %v, want %v", got, want)
	}
}
