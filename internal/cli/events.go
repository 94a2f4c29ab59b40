package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/questbook/internal/logger"
	"github.com/mesh-intelligence/questbook/internal/notify"
	"github.com/mesh-intelligence/questbook/pkg/types"
)

func newEventsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Observe published progression, reward and lobby events",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Print events from the Redis channel until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Notify.RedisAddr == "" {
				return usagef("events watch needs notify.redis_addr or QUESTBOOK_NOTIFY_REDIS_ADDR")
			}
			log, err := newLogger(cfg.LogMode)
			if err != nil {
				return err
			}
			return watch(cmd, log, cfg.Notify)
		},
	})
	return cmd
}

func watch(cmd *cobra.Command, log *logger.Logger, cfg types.NotifyConfig) error {
	sub, err := notify.NewRedisPublisher(log, cfg)
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	err = sub.Subscribe(ctx, func(ev notify.Event) {
		line, err := json.Marshal(ev)
		if err != nil {
			log.Warn("encode event", "error", err)
			return
		}
		fmt.Fprintln(out, string(line))
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
