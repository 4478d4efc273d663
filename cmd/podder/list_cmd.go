package main

import (
	"fmt"
	"sort"

	"github.com/LaurentvdBos/podder/internal/pkg/lifecycle"
)

// ListCmd implements "podder list".
type ListCmd struct{}

func (c *ListCmd) Run(ctx *Context) error {
	names, err := ctx.Store.List()
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		state, pid, err := lifecycle.Status(ctx.Store, name)
		if err != nil {
			return err
		}

		l, err := ctx.Store.Resolve(name)
		if err != nil {
			return err
		}
		parent, err := l.Parent()
		if err != nil {
			return err
		}
		if parent == "" {
			parent = "-"
		}

		if state == lifecycle.Running {
			fmt.Printf("%s\tparent=%s\tRunning(%d)\n", name, parent, pid)
		} else {
			fmt.Printf("%s\tparent=%s\tStopped\n", name, parent)
		}
	}
	return nil
}
