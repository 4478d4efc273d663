package main

// RmCmd implements "podder rm NAME".
type RmCmd struct {
	Name string `arg:"" help:"layer to remove"`
}

func (c *RmCmd) Run(ctx *Context) error {
	return ctx.Store.Remove(c.Name)
}
