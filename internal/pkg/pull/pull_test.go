package pull

import "testing"

func TestTagNameTakesLastRepositorySegment(t *testing.T) {
	cases := map[string]string{
		"ubuntu:latest":                  "ubuntu",
		"library/ubuntu:latest":          "ubuntu",
		"registry-1.docker.io/library/ubuntu:22.04": "ubuntu",
		"ghcr.io/someorg/somerepo:v1":    "somerepo",
	}

	for ref, want := range cases {
		got, err := tagName(ref)
		if err != nil {
			t.Fatalf("tagName(%q): %s", ref, err)
		}
		if got != want {
			t.Errorf("tagName(%q) = %q, want %q", ref, got, want)
		}
	}
}
