package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/hupe1980/convoflow/core"
)

// consoleOutput prints bot messages. Reminders write from scheduler
// goroutines, so writes are serialized.
type consoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleOutput) Name() string { return "cmdline" }

func (c *consoleOutput) SendResponse(_ context.Context, msg core.BotMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Text != "" {
		if _, err := fmt.Fprintf(c.w, "bot> %s\n", msg.Text); err != nil {
			return err
		}
	}
	if msg.Image != nil {
		if _, err := fmt.Fprintf(c.w, "bot> [image] %v\n", msg.Image); err != nil {
			return err
		}
	}
	if msg.Buttons != nil {
		if _, err := fmt.Fprintf(c.w, "     buttons: %v\n", msg.Buttons); err != nil {
			return err
		}
	}
	return nil
}

func newShellCommand(cli *CLI) *cobra.Command {
	var senderID string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Talk to the agent on the command line",
		Long:  "Reads one message per line from stdin until EOF or /stop.",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			agent, err := cli.newAgent(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if stopErr := cli.shutdown(agent); err == nil {
					err = stopErr
				}
			}()
			agent.Start()

			output := &consoleOutput{w: cmd.OutOrStdout()}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				if text == "/stop" {
					return nil
				}
				if _, err := agent.HandleText(ctx, text, senderID, output); err != nil {
					cli.logger.WithSender(senderID, "").Error("Message failed", "error", err)
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&senderID, "sender", core.DefaultSenderID, "Conversation id")
	return cmd
}
