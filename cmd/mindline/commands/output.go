package commands

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cli.Command, v any) error {
	return writeJSON(cmd.Root().Writer, v, "  ")
}

// printJSONLine writes v as a single JSON line, for streamed output.
func printJSONLine(cmd *cli.Command, v any) error {
	return writeJSON(cmd.Root().Writer, v, "")
}

func writeJSON(w io.Writer, v any, indent string) error {
	enc := json.NewEncoder(w)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// requireArgs fails unless exactly n positional arguments were given.
func requireArgs(cmd *cli.Command, n int) error {
	if cmd.Args().Len() != n {
		return fmt.Errorf("%s expects %d argument(s): %s", cmd.FullName(), n, cmd.ArgsUsage)
	}
	return nil
}
