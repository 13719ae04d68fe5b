package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/forj-oss/forj/pkg/config"
	"github.com/forj-oss/forj/pkg/forge"
	"github.com/forj-oss/forj/pkg/providers/local"
)

func newSetupCommand() *cobra.Command {
	var plan bool

	cmd := &cobra.Command{
		Use:   "setup [account]",
		Short: "Configure a cloud account",
		Long: `Ask for every account value a forge boot needs and save them in the
account file. Secrets are encrypted with the local forj key.

A new account is bound to the provider given with --provider. The first
account becomes the default account. The forge keypair is created when
missing.`,
		Example: `  # Create the account 'lab' on the local provider
  forj setup lab --provider local

  # List the questions without asking them
  forj setup lab --plan`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := openConfig(false)
			if err != nil {
				return err
			}
			name := accountName
			if len(args) > 0 {
				name = args[0]
			}
			if name == "" {
				name = cfg.AccountName()
			}

			accounts, err := cfg.Accounts()
			if err != nil {
				return err
			}
			switch {
			case name != "" && slices.Contains(accounts, name):
				if err := cfg.LoadAccount(name); err != nil {
					return err
				}
			default:
				provider := providerName
				if provider == "" {
					provider = local.Name
				}
				if name == "" {
					name = provider
				}
				if err := cfg.NewAccount(name, provider); err != nil {
					return err
				}
				if !plan {
					if err := cfg.SaveAccount(); err != nil {
						return err
					}
				}
			}

			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if plan {
				p, err := a.d.Plan(forge.Forge)
				if err != nil {
					return err
				}
				for i, key := range p.Keys() {
					meta, _ := a.d.Registry().Meta(key)
					fmt.Printf("%2d. %-20s %s\n", i+1, key, meta.Desc)
				}
				return nil
			}

			if err := a.d.Setup(ctx, forge.Forge); err != nil {
				return err
			}

			if cfg.GetString("account_name") == "" {
				if err := cfg.LocalSet("account_name", name); err != nil {
					return err
				}
				a.logger.Info().Str("account", name).Msg("Default account set")
			}

			keyPath := config.ExpandPath(cfg.GetString("keypair_path"))
			key, created, err := forge.GenerateKeypair(keyPath, "forj@"+name)
			if err != nil {
				return err
			}
			if created {
				a.logger.Info().Str("file", key.PrivateKeyFile()).Msg("Forge keypair created")
			}

			fmt.Printf("Account '%s' is ready. Boot a forge with 'forj boot <blueprint> <name> -a %s'\n", name, name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&plan, "plan", false, "list the account keys in asking order")

	return cmd
}
