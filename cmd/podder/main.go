package main

import (
	"fmt"
	"os"

	"github.com/LaurentvdBos/podder/internal/pkg/importer"
	"github.com/LaurentvdBos/podder/internal/pkg/launch"
	"github.com/LaurentvdBos/podder/pkg/errkind"
	"github.com/LaurentvdBos/podder/pkg/store"
	"github.com/LaurentvdBos/podder/pkg/sylog"
	"github.com/alecthomas/kong"
)

// Context carries the shared layer store handle into every command's Run.
type Context struct {
	Store *store.Store
}

// CLI is podder's full command surface (spec §6).
type CLI struct {
	Pull   PullCmd   `cmd:"" help:"pull an image reference into the layer store"`
	Start  StartCmd  `cmd:"" help:"launch a layer's container"`
	Stop   StopCmd   `cmd:"" help:"stop a running container"`
	Status StatusCmd `cmd:"" help:"report whether a layer's container is running"`
	Create CreateCmd `cmd:"" help:"create a new layer on top of a parent"`
	Rm     RmCmd     `cmd:"" help:"remove a layer"`
	List   ListCmd   `cmd:"" help:"list every layer in the store"`
}

func main() {
	// Re-exec entry points: argv[1] names which freshly created namespace
	// this process is running inside, rather than an ordinary CLI
	// invocation.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case launch.InitArg:
			if err := launch.RunInit(); err != nil {
				fmt.Fprintf(os.Stderr, "podder init: %s\n", err)
				os.Exit(1)
			}
			return
		case importer.InitArg:
			if err := importer.RunExtractInit(); err != nil {
				fmt.Fprintf(os.Stderr, "podder extract: %s\n", err)
				os.Exit(1)
			}
			return
		}
	}

	var cli CLI
	kctx := kong.Parse(&cli, kong.Description("a minimal, unprivileged, layer-based container runtime"))

	s, err := store.Open()
	if err != nil {
		sylog.Errorf("%s", err)
		os.Exit(errkind.ExitCode(err))
	}

	err = kctx.Run(&Context{Store: s})
	if err != nil {
		sylog.Errorf("%s", err)
	}
	os.Exit(errkind.ExitCode(err))
}
