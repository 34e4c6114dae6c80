package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammad-safakhou/ragpipe/internal/agent/core"
	"github.com/mohammad-safakhou/ragpipe/internal/pipe"
	srv "github.com/mohammad-safakhou/ragpipe/internal/server"
	"github.com/mohammad-safakhou/ragpipe/models"
	"github.com/spf13/cobra"
)

// parseValves turns KEY=VALUE pairs into valve overrides. Values that parse as
// JSON keep their JSON type.
func parseValves(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("valve %q is not KEY=VALUE", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}

func askCMD() *cobra.Command {
	var userID string
	var valves []string
	var quiet bool

	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question with the agent and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			overrides, err := parseValves(valves)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := srv.NewApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			var emit core.Emitter
			if !quiet {
				emit = func(ctx context.Context, ev core.Event) error {
					_, err := fmt.Fprint(os.Stderr, ev.Data.Content)
					return err
				}
			}
			reply, err := app.Pipe.Run(ctx, pipe.Request{
				Messages: []models.Message{{Role: models.RoleUser, Content: strings.Join(args, " ")}},
				User:     pipe.User{ID: userID},
				Valves:   overrides,
			}, emit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
			return nil
		},
	}
	ask.Flags().StringVar(&userID, "user", "", "user id whose knowledge collections are searched")
	ask.Flags().StringArrayVar(&valves, "valve", nil, "valve override KEY=VALUE (repeatable)")
	ask.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")

	return ask
}
