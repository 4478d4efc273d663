package launch

import (
	"encoding/json"
	"testing"

	"github.com/LaurentvdBos/podder/internal/pkg/subid"
)

func TestSpecJSONRoundTrip(t *testing.T) {
	in := Spec{
		LowerDirs: []string{"/layers/b", "/layers/a"},
		Target:    "/run/podder/c1/root",
		UpperDir:  "/run/podder/c1/upper",
		WorkDir:   "/run/podder/c1/work",
		Ephemeral: true,
		Command:   []string{"/bin/sh", "-c", "echo hi"},
		Env:       []string{"PATH=/bin", "HOME=/root"},
		Workdir:   "/root",
		Hostname:  "c1",
		UID:       1000,
		GID:       1000,
		NetHost:   false,
		SyncFD:    true,
	}

	b, err := json.Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}

	var out Spec
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %s", err)
	}

	if out.Hostname != in.Hostname || out.UID != in.UID || out.SyncFD != in.SyncFD {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if len(out.LowerDirs) != 2 || out.LowerDirs[0] != "/layers/b" {
		t.Errorf("lower dirs not preserved: %v", out.LowerDirs)
	}
}

func TestBuildMappingsPrependsSelf(t *testing.T) {
	ranges := []subid.Range{{Start: 100000, Count: 65536}}

	got := buildMappings(1000, ranges)

	if len(got) != 2 {
		t.Fatalf("expected self-mapping plus one range, got %d entries", len(got))
	}
	if got[0].ContainerID != 0 || got[0].HostID != 1000 || got[0].Size != 1 {
		t.Errorf("self mapping wrong: %+v", got[0])
	}
	if got[1].ContainerID != 1 || got[1].HostID != 100000 || got[1].Size != 65536 {
		t.Errorf("subordinate mapping wrong: %+v", got[1])
	}
}

func TestBuildMappingsConcatenatesMultipleRanges(t *testing.T) {
	ranges := []subid.Range{
		{Start: 100000, Count: 65536},
		{Start: 165536, Count: 65536},
	}

	got := buildMappings(0, ranges)

	if len(got) != 3 {
		t.Fatalf("expected self-mapping plus two ranges, got %d entries", len(got))
	}
	if got[1].ContainerID != 1 || got[2].ContainerID != 65537 {
		t.Errorf("ranges not concatenated contiguously: %+v", got)
	}
}
