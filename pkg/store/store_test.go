package store

import (
	"errors"
	"os"
	"reflect"
	"sort"
	"testing"

	"github.com/LaurentvdBos/podder/pkg/errkind"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return s
}

func TestCreateResolveRemove(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("base", "", nil); err != nil {
		t.Fatalf("Create: %s", err)
	}
	if !s.Exists("base") {
		t.Fatalf("expected base to exist")
	}

	l, err := s.Resolve("base")
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if l.Name != "base" {
		t.Errorf("Name = %q, want base", l.Name)
	}

	if err := s.Remove("base"); err != nil {
		t.Fatalf("Remove: %s", err)
	}
	if s.Exists("base") {
		t.Errorf("expected base to be gone")
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("base", "", nil); err != nil {
		t.Fatalf("Create: %s", err)
	}
	_, err := s.Create("base", "", nil)
	if !errors.Is(err, errkind.New(errkind.Exists, "", "")) {
		t.Errorf("Create duplicate: got %v, want Exists", err)
	}
}

func TestCreateBrokenParentFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("child", "missing-parent", nil)
	if !errors.Is(err, errkind.New(errkind.BrokenParent, "", "")) {
		t.Errorf("Create with missing parent: got %v, want BrokenParent", err)
	}
}

func TestChainOrderedRootFirst(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "a", "")
	mustCreate(t, s, "b", "a")
	mustCreate(t, s, "c", "b")

	chain, err := s.Chain("c")
	if err != nil {
		t.Fatalf("Chain: %s", err)
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("Chain = %v, want %v", chain, want)
	}
}

func TestChainDetectsCycle(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "a", "")
	mustCreate(t, s, "b", "a")

	// Introduce a cycle by hand: a's parent file now points at b.
	l, err := s.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if err := os.WriteFile(l.Path()+"/parent", []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	_, err = s.Chain("b")
	if !errors.Is(err, errkind.New(errkind.Cycle, "", "")) {
		t.Errorf("Chain with cycle: got %v, want Cycle", err)
	}
}

func TestEffectiveConfigFoldsAncestors(t *testing.T) {
	s := newTestStore(t)

	baseCfg := Config{SectionContainer: {KeyWorkdir: "/base", KeyEnvTag + "A": "A=1"}}
	mustCreate(t, s, "base", "")
	baseLayer, _ := s.Resolve("base")
	if err := baseLayer.SetOwnConfig(baseCfg); err != nil {
		t.Fatalf("SetOwnConfig: %s", err)
	}

	childCfg := Config{SectionContainer: {KeyWorkdir: "/child"}}
	mustCreate(t, s, "child", "base")
	childLayer, _ := s.Resolve("child")
	if err := childLayer.SetOwnConfig(childCfg); err != nil {
		t.Fatalf("SetOwnConfig: %s", err)
	}

	eff, err := s.EffectiveConfig("child")
	if err != nil {
		t.Fatalf("EffectiveConfig: %s", err)
	}
	if eff.Workdir() != "/child" {
		t.Errorf("Workdir = %q, want /child (child should override base)", eff.Workdir())
	}
	if got := eff.Env(); len(got) != 1 || got[0] != "A=1" {
		t.Errorf("Env = %v, want [A=1] (inherited from base)", got)
	}
}

func TestRemoveRefusesWithChildren(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "base", "")
	mustCreate(t, s, "child", "base")

	err := s.Remove("base")
	if !errors.Is(err, errkind.New(errkind.HasChildren, "", "")) {
		t.Errorf("Remove with children: got %v, want HasChildren", err)
	}
}

func TestRunningLifecycle(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "base", "")

	running, _, err := s.IsRunning("base")
	if err != nil {
		t.Fatalf("IsRunning: %s", err)
	}
	if running {
		t.Fatalf("expected not running before SetRunning")
	}

	if err := s.SetRunning("base", os.Getpid()); err != nil {
		t.Fatalf("SetRunning: %s", err)
	}

	if err := s.SetRunning("base", os.Getpid()); !errors.Is(err, errkind.New(errkind.AlreadyRunning, "", "")) {
		t.Errorf("SetRunning twice: got %v, want AlreadyRunning", err)
	}

	running, pid, err := s.IsRunning("base")
	if err != nil {
		t.Fatalf("IsRunning: %s", err)
	}
	if !running || pid != os.Getpid() {
		t.Errorf("IsRunning = (%v, %d), want (true, %d)", running, pid, os.Getpid())
	}

	if err := s.Remove("base"); !errors.Is(err, errkind.New(errkind.InUse, "", "")) {
		t.Errorf("Remove while running: got %v, want InUse", err)
	}

	if err := s.ClearRunning("base"); err != nil {
		t.Fatalf("ClearRunning: %s", err)
	}
	running, _, err = s.IsRunning("base")
	if err != nil {
		t.Fatalf("IsRunning: %s", err)
	}
	if running {
		t.Errorf("expected not running after ClearRunning")
	}
}

func TestListAndChildren(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "a", "")
	mustCreate(t, s, "b", "a")
	mustCreate(t, s, "c", "a")

	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %s", err)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Errorf("List = %v", names)
	}

	children, err := s.Children("a")
	if err != nil {
		t.Fatalf("Children: %s", err)
	}
	sort.Strings(children)
	if !reflect.DeepEqual(children, []string{"b", "c"}) {
		t.Errorf("Children = %v", children)
	}
}

func mustCreate(t *testing.T, s *Store, name, parent string) {
	t.Helper()
	if _, err := s.Create(name, parent, nil); err != nil {
		t.Fatalf("Create(%q, %q): %s", name, parent, err)
	}
}
