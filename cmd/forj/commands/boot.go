package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forj-oss/forj/pkg/forge"
)

// bootFlag binds a boot flag to the config key it overrides for this run.
type bootFlag struct {
	name, key, usage string
}

var bootFlags = []bootFlag{
	{"branch", "branch", "maestro branch to clone"},
	{"maestro-repo", "maestro_repo", "local maestro repository to use instead of a clone"},
	{"infra", "infra_repo", "infra workspace directory"},
	{"key-name", "keypair_name", "cloud keypair name"},
	{"key-path", "keypair_path", "local keypair private key file"},
	{"image", "image_name", "image of the maestro server"},
	{"flavor", "flavor_name", "flavor of the maestro server"},
	{"bp-flavor", "bp_flavor", "flavor of the blueprint servers"},
	{"network", "network_name", "network of the forge"},
	{"security-group", "security_group", "security group of the forge"},
	{"ca-root-cert", "ca_root_cert", "CA root certificate as <file>[#<dest>]"},
	{"extra-metadata", "extra_metadata", "additional metadata as key=value,..."},
	{"webproxy", "webproxy", "http proxy of the forge"},
	{"domain", "domain_name", "DNS domain of the forge"},
	{"test-box", "test_box", "local repositories to push with test-box as repo=dir,..."},
	{"test-box-path", "test_box_path", "test-box.sh script"},
}

func newBootCommand() *cobra.Command {
	var (
		values       = make(map[string]*string, len(bootFlags))
		lorjDisabled bool
	)

	cmd := &cobra.Command{
		Use:   "boot <blueprint> <name>",
		Short: "Boot a forge",
		Long: `Boot the maestro of a new forge built from a blueprint, then follow its
cloud-init build until it is over.

When the maestro of the forge already exists, its boot is followed.
A server broken during its build is rebuilt once.`,
		Example: `  # Boot the redstone blueprint as forge 'myforge'
  forj boot redstone myforge

  # Boot from a local maestro repository with a company CA certificate
  forj boot redstone myforge --maestro-repo ~/src/maestro --ca-root-cert ~/ca.crt#/usr/local/share/ca-certificates/ca.crt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blueprint, name := args[0], args[1]

			a, err := openApp(cmd.Context(), appOptions{watchPolicies: true})
			if err != nil {
				return err
			}
			defer a.Close()

			a.cfg.Set("blueprint", blueprint)
			for _, f := range bootFlags {
				if cmd.Flags().Changed(f.name) {
					a.cfg.Set(f.key, *values[f.name])
				}
			}
			if lorjDisabled {
				a.cfg.Set("lorj_disabled", true)
			}

			a.logger.Info().Str("blueprint", blueprint).Str("forge", name).Msg("Booting forge")
			result, err := forge.Boot(cmd.Context(), a.d, name)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			fmt.Printf("Forge '%s' is %s", name, result.GetString("status"))
			if maestro := forge.ServerFromData(maestroOf(result)); maestro != nil && maestro.PublicIP != "" {
				fmt.Printf(". Maestro UI: http://%s/ - ssh: forj ssh %s", maestro.PublicIP, name)
			}
			fmt.Println()
			return nil
		},
	}

	for _, f := range bootFlags {
		values[f.name] = cmd.Flags().String(f.name, "", f.usage)
	}
	cmd.Flags().BoolVar(&lorjDisabled, "lorj-disabled", false, "do not hand the account to the maestro")

	return cmd
}
