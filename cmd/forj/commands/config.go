package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forj-oss/forj/pkg/config"
)

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key...]",
		Short: "Show configuration values and where they come from",
		Long: `Show the value of configuration keys with the layer defining them:
runtime, account, local or default. Without key, every known key is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := openConfig(false)
			if err != nil {
				return err
			}
			keys := args
			if len(keys) == 0 {
				keys = knownKeys(cfg)
			}
			return printValues(os.Stdout, cfg, keys)
		},
	}
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Set configuration values",
		Long: `Set configuration values. Account keys are written in the account given
with --account, other keys in the local configuration file. An empty value
removes a local key.`,
		Example: `  # Use another keypair for every account
  forj set keypair_name=mykey keypair_path=~/.ssh/mykey

  # Change the tenant of the account 'lab'
  forj set tenant=1234 -a lab`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parseAssignments(args)
			if err != nil {
				return err
			}
			cfg, err := openConfig(accountName != "")
			if err != nil {
				return err
			}
			for _, p := range pairs {
				if err := setValue(cfg, p.key, p.value); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type assignment struct {
	key, value string
}

func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("'%s' is not a key=value pair", arg)
		}
		out = append(out, assignment{key: key, value: value})
	}
	return out, nil
}

// setValue writes key in the account when the key belongs to an account
// section and an account is loaded, in the local file otherwise.
func setValue(cfg *config.Store, key, value string) error {
	meta, known := cfg.Defaults().Meta(key)
	if known && meta.Readonly {
		return fmt.Errorf("'%s' is read only", key)
	}
	if known && meta.Account && cfg.AccountName() != "" {
		if err := cfg.SetAccount(key, value); err != nil {
			return err
		}
		fmt.Printf("%s: '%s' set in account '%s'\n", key, displayValue(meta.Encrypted, value), cfg.AccountName())
		return nil
	}
	if value == "" {
		if err := cfg.LocalDel(key); err != nil {
			return err
		}
		fmt.Printf("%s: removed from the local configuration\n", key)
		return nil
	}
	if err := cfg.LocalSet(key, value); err != nil {
		return err
	}
	fmt.Printf("%s: '%s' set in the local configuration\n", key, value)
	return nil
}

// knownKeys returns the default keys and the account section keys, sorted.
func knownKeys(cfg *config.Store) []string {
	seen := map[string]bool{}
	cfg.Defaults().Each(func(_, key string, _ config.KeyMeta) { seen[key] = true })
	for key := range cfg.Defaults().Values {
		seen[key] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printValues(w io.Writer, cfg *config.Store, keys []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tLAYER\tVALUE")
	for _, key := range keys {
		v, ok := cfg.Get(key)
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t\n", key)
			continue
		}
		meta, _ := cfg.Defaults().Meta(key)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, strings.Join(cfg.Where(key), ","), displayValue(meta.Encrypted, v))
	}
	return tw.Flush()
}

func displayValue(secret bool, v any) string {
	if v == nil {
		return ""
	}
	if secret {
		return "********"
	}
	switch v.(type) {
	case string, int, bool, float64:
		return fmt.Sprint(v)
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(strings.ReplaceAll(string(out), "\n", " "))
}
