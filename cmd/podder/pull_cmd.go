package main

import (
	"context"
	"fmt"
	"os"

	"github.com/LaurentvdBos/podder/internal/pkg/pull"
	"github.com/LaurentvdBos/podder/internal/pkg/registry"
)

// PullCmd implements "podder pull REF".
type PullCmd struct {
	Ref      string `arg:"" help:"image reference, e.g. registry-1.docker.io/library/ubuntu:latest"`
	Insecure bool   `help:"allow plain HTTP / skip TLS verification for this registry"`
}

func (c *PullCmd) Run(ctx *Context) error {
	name, err := pull.Image(context.Background(), ctx.Store, c.Ref, pull.Options{
		Platform: registry.Options{
			Platform: registry.DefaultPlatform(),
			Insecure: c.Insecure,
		},
		// Device node creation during extraction needs CAP_MKNOD, which
		// this unprivileged host process has only as root; everywhere
		// else it is degraded to a warning (spec §7).
		Privileged: os.Geteuid() == 0,
	})
	if err != nil {
		return err
	}
	fmt.Println(name)
	return nil
}
