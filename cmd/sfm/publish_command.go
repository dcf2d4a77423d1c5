package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sfm/internal/bus"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <routing-key> <json|@file>",
		Short: "Publish an event on the message bus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			routingKey := strings.TrimSpace(args[0])
			if routingKey == "" {
				return fmt.Errorf("routing key is required")
			}
			body, err := readPayload(args[1])
			if err != nil {
				return err
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := bus.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			receivers, err := bus.Publish(cmd.Context(), client, routingKey, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s to %d subscriber(s)\n", routingKey, receivers)
			return nil
		},
	}
}

// readPayload returns the literal argument, or the file contents when the
// argument starts with '@'. The payload must be valid JSON.
func readPayload(arg string) ([]byte, error) {
	body := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		body = data
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return body, nil
}
