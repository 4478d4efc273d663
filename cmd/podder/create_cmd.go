package main

import "github.com/LaurentvdBos/podder/pkg/store"

// CreateCmd implements "podder create NAME --parent P".
type CreateCmd struct {
	Name   string `arg:"" help:"name of the new layer"`
	Parent string `help:"parent layer name, empty for a root layer"`
}

func (c *CreateCmd) Run(ctx *Context) error {
	_, err := ctx.Store.Create(c.Name, c.Parent, store.Config{})
	return err
}
