package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandSchema describes one command for agents that drive the CLI.
type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Runnable    bool            `json:"runnable"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Usage      string `json:"usage"`
	Default    string `json:"default,omitempty"`
	Required   bool   `json:"required,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

// Build serializes the command at commandPath (relative to root) and its
// visible subtree. An empty path describes the whole CLI.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	parts := strings.Fields(commandPath)
	cmd := root
	if len(parts) > 0 {
		found, rest, err := root.Find(parts)
		if err != nil || len(rest) > 0 || found == root {
			return CommandSchema{}, fmt.Errorf("command not found: %s", strings.Join(parts, " "))
		}
		cmd = found
	}
	return serialize(cmd), nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:     strings.TrimSpace(cmd.CommandPath()),
		Use:      cmd.Use,
		Short:    cmd.Short,
		Runnable: cmd.Runnable(),
		Flags:    collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	items := []FlagSchema{}
	persistent := map[string]bool{}
	cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) { persistent[f.Name] = true })
	cmd.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		items = append(items, describe(f, false))
	})
	for name := range persistent {
		items = append(items, describe(cmd.PersistentFlags().Lookup(name), true))
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Persistent != items[j].Persistent {
			return !items[i].Persistent
		}
		return items[i].Name < items[j].Name
	})
	return items
}

func describe(f *pflag.Flag, persistent bool) FlagSchema {
	_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
	return FlagSchema{
		Name:       f.Name,
		Type:       f.Value.Type(),
		Usage:      f.Usage,
		Default:    f.DefValue,
		Required:   required,
		Persistent: persistent,
	}
}
