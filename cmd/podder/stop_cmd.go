package main

import (
	"time"

	"github.com/LaurentvdBos/podder/internal/pkg/lifecycle"
	"github.com/LaurentvdBos/podder/internal/pkg/signal"
)

// StopCmd implements "podder stop NAME [--signal S] [--timeout T]".
type StopCmd struct {
	Name    string `arg:"" help:"layer whose container to stop"`
	Signal  string `help:"signal to send first" default:"SIGTERM"`
	Timeout int    `help:"seconds to wait before SIGKILL" default:"10"`
}

func (c *StopCmd) Run(ctx *Context) error {
	sig, err := signal.Parse(c.Signal)
	if err != nil {
		return err
	}
	return lifecycle.Stop(ctx.Store, c.Name, sig, time.Duration(c.Timeout)*time.Second)
}
