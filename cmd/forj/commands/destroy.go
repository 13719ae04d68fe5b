package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/forj-oss/forj/pkg/forge"
	"github.com/forj-oss/forj/pkg/lorj"
)

const (
	choiceAll   = "all"
	choiceAbort = "abort"
)

func newDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down <name>",
		Short: "Delete every server of a forge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info().Str("forge", args[0]).Msg("Deleting forge")
			deleted, err := forge.Destroy(cmd.Context(), a.d, args[0], "")
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("some servers of forge '%s' were not deleted", args[0])
			}
			fmt.Printf("Forge '%s' deleted\n", args[0])
			return nil
		},
	}
}

func newDestroyCommand() *cobra.Command {
	var (
		force    bool
		serverID string
	)

	cmd := &cobra.Command{
		Use:   "destroy <name>",
		Short: "Destroy forge servers",
		Long: `Destroy the servers of a forge. Without --force or --server, the server
to destroy is asked for.`,
		Example: `  # Choose the server to destroy
  forj destroy myforge

  # Destroy every server
  forj destroy myforge --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := forge.Get(ctx, a.d, name)
			if err != nil {
				return err
			}
			if f == nil {
				fmt.Printf("No server(s) found on forge instance '%s'.\n", name)
				return nil
			}

			target := serverID
			if !force && target == "" {
				choices, ids := serverChoices(forgeServers(f))
				answer, err := a.d.Ask(ctx, lorj.Question{
					Key:     "forge_server",
					Desc:    "Please, choose what you want to destroy",
					Choices: choices,
				})
				if err != nil {
					return err
				}
				switch answer {
				case choiceAbort:
					fmt.Println("No server destroyed on your demand.")
					return nil
				case choiceAll:
				default:
					target = ids[answer]
				}
			}

			deleted, err := forge.Destroy(ctx, a.d, name, target)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("some servers of forge '%s' were not destroyed", name)
			}
			fmt.Println("Server(s) destroyed")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "destroy every server without asking")
	cmd.Flags().StringVar(&serverID, "server", "", "id of the only server to destroy")

	return cmd
}

// serverChoices lists the servers by name, adding the id to the names
// shared by several servers, then "all" and "abort". ids maps a choice to
// its server id.
func serverChoices(servers []*forge.Server) ([]string, map[string]string) {
	byName := map[string][]string{}
	for _, s := range servers {
		byName[s.Name] = append(byName[s.Name], s.ID)
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	var choices []string
	ids := map[string]string{}
	for _, n := range names {
		if len(byName[n]) == 1 {
			choices = append(choices, n)
			ids[n] = byName[n][0]
			continue
		}
		for _, id := range byName[n] {
			c := n + " - " + id
			choices = append(choices, c)
			ids[c] = id
		}
	}
	return append(choices, choiceAll, choiceAbort), ids
}

// forgeServers returns the servers of a loaded forge, sorted by type.
func forgeServers(f *lorj.Data) []*forge.Server {
	v, _ := f.Get("servers")
	servers, _ := v.(map[string]any)
	kinds := make([]string, 0, len(servers))
	for k := range servers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	out := make([]*forge.Server, 0, len(servers))
	for _, k := range kinds {
		if d, ok := servers[k].(*lorj.Data); ok {
			out = append(out, forge.ServerFromData(d))
		}
	}
	return out
}

func maestroOf(f *lorj.Data) *lorj.Data {
	if f == nil {
		return nil
	}
	v, _ := f.Get("servers", forge.MaestroType)
	d, _ := v.(*lorj.Data)
	return d
}
