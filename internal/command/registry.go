// Package command implements the colon-command surface of the REPL: a
// static table of named handlers plus the session that routes a raw
// submission between commands and code evaluation.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler runs one command. It returns the text to show the user.
type Handler func(ctx context.Context, s *Session, args string) (string, error)

// Command is one entry in the static table.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   Handler
}

var (
	registryOnce sync.Once
	registry     map[string]*Command
)

// commands returns the command table, built once.
func commands() map[string]*Command {
	registryOnce.Do(func() {
		registry = map[string]*Command{}
		for _, c := range commandList() {
			registry[c.Name] = c
		}
	})
	return registry
}

// Lookup resolves a command by its name without the leading colon.
func Lookup(name string) (*Command, bool) {
	c, ok := commands()[name]
	return c, ok
}

// Names returns all command names, sorted.
func Names() []string {
	table := commands()
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func helpText() string {
	table := commands()
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range Names() {
		c := table[name]
		usage := ":" + c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		fmt.Fprintf(&b, "  %-34s %s\n", usage, c.Help)
	}
	return strings.TrimRight(b.String(), "\n")
}
