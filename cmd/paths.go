package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tsawler/go-checkpoint/config"
)

var pathRole string

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List the built-in experiment variants",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range config.VariantNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths [variant]",
	Short: "Show the path table of an experiment variant",
	Long:  `Show the path table of the given variant, or of the configured variant with base_dir and overrides applied.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPaths,
}

func init() {
	pathsCmd.Flags().StringVarP(&pathRole, "role", "r", "", "print only the path of this role (e.g. checkpoint_dir)")
}

func runPaths(cmd *cobra.Command, args []string) error {
	var (
		paths config.Paths
		err   error
	)

	if len(args) == 1 {
		paths, err = config.Variant(args[0])
	} else {
		var cfg *config.Config
		cfg, err = loadConfig(newLogger(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		paths, err = cfg.ResolvedPaths()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if pathRole != "" {
		path, ok := paths.Lookup(pathRole)
		if !ok {
			return fmt.Errorf("role %q is not defined for this variant", pathRole)
		}
		fmt.Fprintln(out, path)
		return nil
	}

	roles := paths.Roles()
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("ROLE\tPATH"))
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, roles[name])
	}
	return w.Flush()
}
