package main

import (
	"fmt"

	"github.com/LaurentvdBos/podder/internal/pkg/lifecycle"
)

// StatusCmd implements "podder status NAME".
type StatusCmd struct {
	Name string `arg:"" help:"layer to report on"`
}

func (c *StatusCmd) Run(ctx *Context) error {
	state, pid, err := lifecycle.Status(ctx.Store, c.Name)
	if err != nil {
		return err
	}
	if state == lifecycle.Running {
		fmt.Printf("Running(%d)\n", pid)
	} else {
		fmt.Println("Stopped")
	}
	return nil
}
