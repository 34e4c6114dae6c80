package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/ragpipe/internal/queue/streams"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func eventsCMD() *cobra.Command {
	var from string
	var follow bool

	var events = &cobra.Command{
		Use:   "events",
		Short: "Print agent progress events from the Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Events.RedisStream == "" || !cfg.Storage.Redis.Enabled() {
				return errors.New("events.redis_stream and storage.redis.host must be set")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			defer rdb.Close()
			registry, err := streams.NewDefaultRegistry()
			if err != nil {
				return err
			}
			reader := streams.NewReader(rdb, registry)

			block := time.Duration(0)
			if follow {
				block = 5 * time.Second
			}
			last := from
			for {
				msgs, next, err := reader.Read(ctx, cfg.Events.RedisStream, last, 100, block)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				last = next
				for _, m := range msgs {
					var data map[string]any
					_ = json.Unmarshal(m.Envelope.Data, &data)
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s %v\n", m.ID, m.Envelope.OccurredAt.Format(time.RFC3339), m.Envelope.EventType, m.Envelope.RunID, data)
				}
				if !follow && len(msgs) == 0 {
					return nil
				}
			}
		},
	}
	events.Flags().StringVar(&from, "from", "0", "stream id to start after (0 = beginning)")
	events.Flags().BoolVarP(&follow, "follow", "f", false, "keep waiting for new events")

	return events
}
