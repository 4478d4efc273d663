package importer

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func buildTar(t *testing.T, entries []tar.Header, bodies map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, hdr := range entries {
		h := hdr
		body := bodies[hdr.Name]
		h.Size = int64(len(body))
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatalf("WriteHeader(%s): %s", hdr.Name, err)
		}
		if body != "" {
			if _, err := tw.Write([]byte(body)); err != nil {
				t.Fatalf("Write(%s): %s", hdr.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	return buf.Bytes()
}

func TestExtractTarRegularFilesAndDirs(t *testing.T) {
	root := t.TempDir()

	data := buildTar(t, []tar.Header{
		{Name: "etc/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "etc/hostname", Typeflag: tar.TypeReg, Mode: 0o644},
	}, map[string]string{
		"etc/hostname": "podder\n",
	})

	if err := extractTar(root, bytes.NewReader(data), Options{}); err != nil {
		t.Fatalf("extractTar: %s", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "etc/hostname"))
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if string(got) != "podder\n" {
		t.Errorf("contents = %q", got)
	}
}

func TestExtractTarWhiteoutCreatesCharDevice(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("creating whiteout device nodes requires CAP_MKNOD")
	}
	root := t.TempDir()

	data := buildTar(t, []tar.Header{
		{Name: "var/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "var/.wh.cache", Typeflag: tar.TypeReg, Mode: 0o644},
	}, nil)

	if err := extractTar(root, bytes.NewReader(data), Options{}); err != nil {
		t.Fatalf("extractTar: %s", err)
	}

	var st unix.Stat_t
	if err := unix.Lstat(filepath.Join(root, "var/cache"), &st); err != nil {
		t.Fatalf("Lstat whiteout node: %s", err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		t.Errorf("whiteout node is not a char device")
	}
	if unix.Major(uint64(st.Rdev)) != 0 || unix.Minor(uint64(st.Rdev)) != 0 {
		t.Errorf("whiteout node is not 0:0")
	}
}

func TestExtractTarOpaqueMarkerSetsXattr(t *testing.T) {
	root := t.TempDir()

	data := buildTar(t, []tar.Header{
		{Name: "app/", Typeflag: tar.TypeDir, Mode: 0o755},
		{Name: "app/.wh..wh..opq", Typeflag: tar.TypeReg, Mode: 0o644},
	}, nil)

	if err := extractTar(root, bytes.NewReader(data), Options{}); err != nil {
		t.Fatalf("extractTar: %s", err)
	}

	appDir := filepath.Join(root, "app")
	buf := make([]byte, 8)
	_, err := unix.Getxattr(appDir, "trusted.overlay.opaque", buf)
	if err != nil {
		_, err = unix.Getxattr(appDir, "user.overlay.opaque", buf)
	}
	if err != nil {
		t.Errorf("opaque xattr not set on %s: %s", appDir, err)
	}
}

func TestExtractTarRejectsPathTraversal(t *testing.T) {
	root := t.TempDir()

	data := buildTar(t, []tar.Header{
		{Name: "../escape", Typeflag: tar.TypeReg, Mode: 0o644},
	}, map[string]string{"../escape": "oops"})

	err := extractTar(root, bytes.NewReader(data), Options{})
	if err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
}

func TestExtractTarSymlink(t *testing.T) {
	root := t.TempDir()

	data := buildTar(t, []tar.Header{
		{Name: "bin/sh", Typeflag: tar.TypeSymlink, Linkname: "bash", Mode: 0o777},
	}, nil)

	if err := extractTar(root, bytes.NewReader(data), Options{}); err != nil {
		t.Fatalf("extractTar: %s", err)
	}

	target, err := os.Readlink(filepath.Join(root, "bin/sh"))
	if err != nil {
		t.Fatalf("Readlink: %s", err)
	}
	if target != "bash" {
		t.Errorf("symlink target = %q, want bash", target)
	}
}
