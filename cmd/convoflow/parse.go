package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newParseCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text>",
		Short: "Print the interpreter's parse result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := cli.newAgent(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = cli.shutdown(agent) }()

			parsed, err := agent.ParseMessageUsingInterpreter(cmd.Context(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(parsed, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
