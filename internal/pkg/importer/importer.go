// Package importer implements C3, the image importer: it extracts an OCI
// image's layers into the layer store, bottom-up, translating tar
// whiteouts into the overlayfs whiteout convention understood by the
// mount planner.
package importer

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/LaurentvdBos/podder/internal/pkg/subid"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/store"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/ccoveille/go-safecast"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"golang.org/x/sys/unix"
)

const whiteoutPrefix = ".wh."
const opaqueMarker = ".wh..wh..opq"

// Options controls layer extraction.
type Options struct {
	// Privileged is true when the caller is already host root: extraction
	// then runs in-process, since root can already chown to arbitrary
	// owners and mknod device/whiteout nodes directly. An unprivileged
	// caller instead gets its layers extracted inside a freshly created
	// user namespace (extractInNamespace) where it holds the same
	// capabilities over its own mapped subordinate ID range; that re-exec'd
	// extractor is itself called with Privileged true, since by then it
	// really does have those capabilities.
	Privileged bool
}

// ImportImage creates one store layer per image layer, named after the
// layer's DiffID, chained from the image's base layer to its top layer. A
// layer already present in the store (same DiffID already imported, even
// under a different image) is reused rather than re-extracted, since
// layers are content-addressed and immutable once created.
func ImportImage(ctx context.Context, s *store.Store, img v1.Image, opts Options) (leaf string, err error) {
	layers, err := img.Layers()
	if err != nil {
		return "", errkind.Wrap(errkind.Unknown, "list image layers", "", err)
	}

	var uidRanges, gidRanges []subid.Range
	useNamespace := false
	if !opts.Privileged {
		if u, uerr := subid.CurrentUser(); uerr == nil {
			uidRanges, _ = subid.ReadRanges(subid.SubUIDFile, u)
			gidRanges, _ = subid.ReadRanges(subid.SubGIDFile, u)
			useNamespace = len(uidRanges) > 0 && len(gidRanges) > 0
		}
	}

	parent := ""
	for i, l := range layers {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		diffID, err := l.DiffID()
		if err != nil {
			return "", errkind.Wrap(errkind.Unknown, "read layer diffID", "", err)
		}
		name := "sha256-" + diffID.Hex

		if s.Exists(name) {
			sylog.Debugf("layer %s already imported, reusing", name)
			parent = name
			continue
		}

		sylog.Infof("importing layer %d/%d: %s", i+1, len(layers), name)

		layer, err := s.Create(name, parent, nil)
		if err != nil {
			return "", err
		}

		rc, err := l.Uncompressed()
		if err != nil {
			_ = s.Remove(name)
			return "", errkind.Wrap(errkind.Unknown, "open layer blob", name, err)
		}

		hasher := sha256.New()
		verified := io.TeeReader(rc, hasher)

		var extractErr error
		switch {
		case opts.Privileged:
			extractErr = extractTar(layer.RootPath(), verified, opts)
		case useNamespace:
			extractErr = extractInNamespace(layer.RootPath(), verified, uidRanges, gidRanges)
		default:
			sylog.Warningf("no subordinate ID ranges delegated; extracting %s without a user namespace, device nodes will be skipped", name)
			extractErr = extractTar(layer.RootPath(), verified, Options{Privileged: false})
		}
		rc.Close()

		if extractErr != nil {
			_ = s.Remove(name)
			return "", errkind.Wrap(errkind.Unknown, "extract layer", name, extractErr)
		}

		got := fmt.Sprintf("sha256:%x", hasher.Sum(nil))
		if got != diffID.String() {
			_ = s.Remove(name)
			return "", errkind.New(errkind.DigestMismatch, "verify layer diffID", fmt.Sprintf("got %s want %s", got, diffID))
		}

		parent = name
	}

	return parent, nil
}

// extractTar extracts a decompressed layer tar stream into root, applying
// OCI whiteout conventions (spec §4): a ".wh.NAME" entry becomes a
// char(0,0) device node named NAME so an overlay mount of this layer over
// its ancestors hides NAME; a ".wh..wh..opq" entry marks its containing
// directory opaque so ancestor entries inside it are hidden entirely.
func extractTar(root string, r io.Reader, opts Options) error {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		target := filepath.Join(root, name)
		if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
			return fmt.Errorf("%s: tar entry escapes layer root", hdr.Name)
		}

		base := filepath.Base(target)
		dir := filepath.Dir(target)

		if base == opaqueMarker {
			if err := markOpaque(dir); err != nil {
				return err
			}
			continue
		}

		if strings.HasPrefix(base, whiteoutPrefix) {
			whited := filepath.Join(dir, strings.TrimPrefix(base, whiteoutPrefix))
			if err := writeWhiteout(whited); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}

		if err := extractEntry(root, target, hdr, tr, opts); err != nil {
			return fmt.Errorf("%s: %w", hdr.Name, err)
		}
	}
	return nil
}

func extractEntry(root, target string, hdr *tar.Header, r io.Reader, opts Options) error {
	mode, err := safecast.ToUint32(hdr.Mode)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(mode&0o7777)); err != nil {
			return err
		}

	case tar.TypeReg, tar.TypeRegA:
		os.Remove(target)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(mode&0o7777))
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(f, r)
		closeErr := f.Close()
		if copyErr != nil {
			return copyErr
		}
		if closeErr != nil {
			return closeErr
		}

	case tar.TypeSymlink:
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return err
		}

	case tar.TypeLink:
		// Hardlink targets in OCI layers are given relative to the
		// extraction root, not to the entry's own directory.
		src := filepath.Join(root, strings.TrimPrefix(hdr.Linkname, "/"))
		os.Remove(target)
		if err := os.Link(src, target); err != nil {
			return err
		}
		return nil

	case tar.TypeChar, tar.TypeBlock:
		if !opts.Privileged {
			sylog.Warningf("skipping device node %s: extraction is unprivileged", target)
			return nil
		}
		return makeDeviceNode(target, hdr, mode)

	case tar.TypeFifo:
		os.Remove(target)
		if err := unix.Mkfifo(target, mode&0o7777); err != nil {
			return err
		}

	default:
		sylog.Debugf("skipping unsupported tar entry type %d: %s", hdr.Typeflag, target)
		return nil
	}

	if hdr.Typeflag != tar.TypeSymlink {
		if err := os.Chtimes(target, hdr.AccessTime, hdr.ModTime); err != nil {
			sylog.Debugf("could not set times on %s: %s", target, err)
		}
	}
	_ = os.Lchown(target, hdr.Uid, hdr.Gid)

	return nil
}

// makeDeviceNode creates a char or block device node. Device creation
// requires CAP_MKNOD, which an unprivileged caller holds only inside a
// user namespace where it has been mapped to the namespace's root; when it
// is missing (the caller isn't running inside such a namespace yet), the
// node is skipped with a warning rather than aborting the whole import, so
// images containing incidental device nodes (e.g. in /dev) still import.
func makeDeviceNode(target string, hdr *tar.Header, mode uint32) error {
	devMode := mode & 0o7777
	if hdr.Typeflag == tar.TypeChar {
		devMode |= unix.S_IFCHR
	} else {
		devMode |= unix.S_IFBLK
	}

	major, err := safecast.ToUint32(hdr.Devmajor)
	if err != nil {
		return err
	}
	minor, err := safecast.ToUint32(hdr.Devminor)
	if err != nil {
		return err
	}

	os.Remove(target)
	dev := unix.Mkdev(major, minor)
	if err := unix.Mknod(target, devMode, int(dev)); err != nil {
		if err == unix.EPERM {
			sylog.Warningf("skipping device node %s: insufficient privilege to mknod", target)
			return nil
		}
		return err
	}
	return nil
}

// writeWhiteout replaces path with the char(0,0) node overlayfs treats as
// "hidden by this layer", after removing whatever this layer may already
// have extracted there.
func writeWhiteout(path string) error {
	os.RemoveAll(path)
	if err := unix.Mknod(path, unix.S_IFCHR|0o000, int(unix.Mkdev(0, 0))); err != nil {
		if err == unix.EPERM {
			sylog.Warningf("skipping whiteout node %s: insufficient privilege to mknod", path)
			return nil
		}
		return fmt.Errorf("write whiteout %s: %w", path, err)
	}
	return nil
}

// markOpaque sets the overlay opaque-directory marker on dir in both the
// "trusted." and "user." xattr namespaces. The mount planner always mounts
// with the "userxattr" option, under which overlayfs reads only the "user."
// form; the "trusted." form, which requires CAP_SYS_ADMIN over the
// filesystem's owning user namespace, is written as well where permitted.
// It fails only when neither form can be set.
func markOpaque(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	trustedErr := unix.Setxattr(dir, "trusted.overlay.opaque", []byte("y"), 0)
	userErr := unix.Setxattr(dir, "user.overlay.opaque", []byte("y"), 0)
	if trustedErr != nil && userErr != nil {
		return fmt.Errorf("mark opaque %s: %w", dir, userErr)
	}
	return nil
}
