package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	redisStorage "custody-engine/internal/adapter/storage/redis"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Observe committed custody events",
	}
	cmd.AddCommand(eventsWatchCmd())
	return cmd
}

func eventsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print events from the Redis channel as JSON lines until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.connectRedis(ctx); err != nil {
				return err
			}

			events, err := redisStorage.NewEventPublisher(a.rdb, a.cfg.Events.Channel).Subscribe(ctx, a.log)
			if err != nil {
				return err
			}
			a.log.Info().Str("channel", a.cfg.Events.Channel).Msg("Watching custody events")

			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
