package cmd

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tsawler/go-checkpoint/checkpoints"
)

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect <checkpoint>",
	Short: "Decode a saved checkpoint and print its fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "", "checkpoint format: proto or json (default: by extension)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	name := inspectFormat
	if name == "" && strings.EqualFold(filepath.Ext(path), ".json") {
		name = "json"
	}
	format, err := checkpoints.ParseFormat(name)
	if err != nil {
		return err
	}

	state, err := checkpoints.NewStateSaver(format).LoadState(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("FIELD\tVALUE"))
	for _, key := range state.Keys() {
		fmt.Fprintf(w, "%s\t%s\n", key, summarize(state[key]))
	}
	return w.Flush()
}

// summarize keeps label collections from flooding the terminal
func summarize(v interface{}) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return fmt.Sprintf("[%d items]", rv.Len())
	case reflect.Map:
		return fmt.Sprintf("{%d fields}", rv.Len())
	default:
		return fmt.Sprint(v)
	}
}
