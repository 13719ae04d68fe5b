package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/forge"
)

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show accounts, forges and boot history",
	}
	cmd.AddCommand(newShowAccountCommand())
	cmd.AddCommand(newShowForgeCommand())
	cmd.AddCommand(newShowHistoryCommand())
	return cmd
}

func newShowAccountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "account [name]",
		Short: "List the accounts, or show the values of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := openConfig(false)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				accounts, err := cfg.Accounts()
				if err != nil {
					return err
				}
				if len(accounts) == 0 {
					fmt.Println("No account. Use 'forj setup' to create one.")
					return nil
				}
				def := cfg.GetString("account_name")
				for _, name := range accounts {
					mark := " "
					if name == def {
						mark = "*"
					}
					fmt.Printf("%s %s\n", mark, name)
				}
				return nil
			}

			if err := cfg.LoadAccount(args[0]); err != nil {
				return err
			}
			var keys []string
			cfg.Defaults().Each(func(_, key string, m config.KeyMeta) {
				if m.Account {
					keys = append(keys, key)
				}
			})
			return printValues(os.Stdout, cfg, keys)
		},
	}
}

func newShowForgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forge <name>",
		Short: "List the servers of a forge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := forge.Get(cmd.Context(), a.d, args[0])
			if err != nil {
				return err
			}
			if f == nil {
				fmt.Printf("No server(s) found on forge instance '%s'.\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tSTATUS\tPUBLIC IP\tPRIVATE IP")
			for _, s := range forgeServers(f) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.ID, s.Status, s.PublicIP, s.PrivateIP)
			}
			return tw.Flush()
		},
	}
}

func newShowHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <forge>",
		Short: "Show the recorded boot transitions of a forge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveDataDir()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListBootEvents(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Printf("No boot recorded for forge '%s'.\n", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRUN\tFROM\tTO\tLEVEL\tMESSAGE")
			for _, e := range events {
				run := e.RunID
				if len(run) > 8 {
					run = run[:8]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), run, e.FromState, e.ToState, e.Level, e.Message)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of transitions shown, 0 for all")

	return cmd
}
