package importer

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/LaurentvdBos/podder/internal/pkg/subid"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"golang.org/x/sys/unix"
)

// InitArg is the argv[1] that tells cmd/podder's main to run the extractor
// entry point instead of the ordinary CLI.
const InitArg = "__podder_extract_init__"

// EnvRoot names the environment variable carrying the extraction target
// directory to the re-exec'd extractor child.
const EnvRoot = "PODDER_EXTRACT_ROOT"

// extractInNamespace re-execs the current binary into a fresh user
// namespace mapped so that namespace UID/GID 0 is the first subordinate ID
// delegated to the caller (spec §4.3 step 2), the same re-exec shape
// internal/pkg/launch uses to apply ID maps to a container's namespace,
// then streams r into the child's stdin for RunExtractInit to extract with
// extractTar there. Inside that namespace the child holds full
// capabilities over its own mapped ID range, so OCI ownership and
// device/whiteout nodes are preserved without host privilege.
func extractInNamespace(root string, r io.Reader, uidRanges, gidRanges []subid.Range) error {
	self, err := os.Executable()
	if err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "resolve own executable", "", err)
	}

	cmd := exec.Command(self, InitArg)
	cmd.Stdin = r
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), EnvRoot+"="+root)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER,
	}

	syncR, syncW, err := os.Pipe()
	if err != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "create sync pipe", "", err)
	}
	// errR/errW mirrors internal/pkg/launch's pre-created error pipe: the
	// child marks its end close-on-exec, so a clean extraction run closes
	// it with nothing written, and any failure writes a message first.
	errR, errW, err := os.Pipe()
	if err != nil {
		syncR.Close()
		syncW.Close()
		return errkind.Wrap(errkind.NamespaceSetupFailed, "create error pipe", "", err)
	}
	cmd.ExtraFiles = []*os.File{syncR, errW}

	if err := cmd.Start(); err != nil {
		syncR.Close()
		syncW.Close()
		errR.Close()
		errW.Close()
		return errkind.Wrap(errkind.NamespaceSetupFailed, "start extractor", "", err)
	}
	syncR.Close()
	errW.Close()

	mapErr := subid.ApplyNewIDMap("newuidmap", cmd.Process.Pid, subid.MappingsFromZero(uidRanges))
	if mapErr == nil {
		mapErr = subid.ApplyNewIDMap("newgidmap", cmd.Process.Pid, subid.MappingsFromZero(gidRanges))
	}
	if mapErr != nil {
		syncW.Close()
		errR.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return mapErr
	}
	syncW.Close()

	msg, _ := io.ReadAll(errR)
	errR.Close()
	waitErr := cmd.Wait()
	if len(msg) > 0 {
		return errkind.New(errkind.NamespaceSetupFailed, "extract layer", string(msg))
	}
	if waitErr != nil {
		return errkind.Wrap(errkind.NamespaceSetupFailed, "extractor exited", "", waitErr)
	}
	return nil
}

// RunExtractInit is the entry point run inside the freshly created user
// namespace by extractInNamespace. It blocks on fd 3 until the parent has
// finished applying ID mappings, then extracts the tar stream on stdin into
// the directory named by PODDER_EXTRACT_ROOT. Any error is written to fd 4
// before returning, mirroring internal/pkg/launch's init error-reporting
// pipe.
func RunExtractInit() error {
	errW := os.NewFile(4, "errpipe")
	if errW != nil {
		unix.CloseOnExec(4)
	}

	err := runExtractInit()
	if err != nil && errW != nil {
		errW.WriteString(err.Error())
	}
	return err
}

func runExtractInit() error {
	if sync := os.NewFile(3, "sync"); sync != nil {
		buf := make([]byte, 1)
		_, _ = sync.Read(buf)
		sync.Close()
	}

	root := os.Getenv(EnvRoot)
	if root == "" {
		return errkind.New(errkind.NamespaceSetupFailed, "extract init", "missing "+EnvRoot)
	}

	// Inside this namespace the mapped range grants full capabilities over
	// the extracted files, the same footing real host root has.
	return extractTar(root, os.Stdin, Options{Privileged: true})
}
