package signal

import (
	"syscall"
	"testing"
)

func TestParseAcceptsNamesAndAliases(t *testing.T) {
	cases := map[string]syscall.Signal{
		"SIGTERM": syscall.SIGTERM,
		"term":    syscall.SIGTERM,
		"SIGKILL": syscall.SIGKILL,
		"9":       syscall.Signal(9),
		"":        syscall.SIGTERM,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %s", in, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	if _, err := Parse("NOTASIGNAL"); err == nil {
		t.Error("expected an error for an unrecognised signal name")
	}
}
