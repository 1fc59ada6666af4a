package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/events"
)

func newListenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Match postings received over NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := a.openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			strategy, _, err := a.buildStrategy(conn)
			if err != nil {
				return err
			}

			cfg := a.cfg.Events()
			nc, err := events.Connect(cfg, a.log)
			if err != nil {
				return err
			}
			defer nc.Close()

			l := events.NewListener(conn, strategy, a.cfg.Matching.Version, nc, cfg, a.log)
			sub, err := l.Subscribe(nc)
			if err != nil {
				return err
			}

			<-cmd.Context().Done()
			a.log.Info("shutting down listener")
			if err := sub.Drain(); err != nil {
				a.log.Warn("drain subscription", zap.Error(err))
			}
			return nc.Drain()
		},
	}
}
