package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/forj-oss/forj/pkg/forge"
)

func newSSHCommand() *cobra.Command {
	var (
		identity string
		user     string
	)

	cmd := &cobra.Command{
		Use:   "ssh <name> [box]",
		Short: "Open a shell on a forge server",
		Long: `Open an interactive shell on a server of the forge, the maestro unless a
box type is given. The forge keypair is used unless -i gives another key.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{
				stdin:  os.Stdin,
				stdout: os.Stdout,
				stderr: os.Stderr,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if identity != "" {
				a.cfg.Set("identity", identity)
			}
			if user != "" {
				a.cfg.Set("ssh_user", user)
			}
			box := ""
			if len(args) > 1 {
				box = args[1]
			}
			_, err = forge.OpenSSH(cmd.Context(), a.d, args[0], box)
			return err
		},
	}

	cmd.Flags().StringVarP(&identity, "identity", "i", "", "private key file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "remote user")

	return cmd
}
