package main

import (
	"context"
	"fmt"

	"github.com/agio-run/agio/pkg/checkpoint"
	"github.com/agio-run/agio/pkg/session"
)

// ForkCmd forks an existing session at a given sequence, optionally
// replacing the query of the last user step, and prints the id of the
// new session it created. The source session is never mutated.
type ForkCmd struct {
	SessionID     string `arg:"" help:"The session id to fork."`
	AtSequence    int    `arg:"" help:"The step sequence to fork at."`
	ModifiedQuery string `name:"modified-query" help:"Replacement content for the last user step, if any."`
}

func (c *ForkCmd) Run(cli *CLI) error {
	store := session.NewInMemoryStore()
	manager := checkpoint.New(store)

	var mods *checkpoint.Modifications
	if c.ModifiedQuery != "" {
		mods = &checkpoint.Modifications{ModifiedQuery: c.ModifiedQuery}
	}

	newSessionID, err := manager.Fork(context.Background(), c.SessionID, c.AtSequence, mods)
	if err != nil {
		return withExitCode(exitConfigError, err)
	}
	fmt.Println(newSessionID)
	return nil
}
