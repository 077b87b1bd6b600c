package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/swapflow/config"
	redis_db "github.com/jerry-enebeli/swapflow/internal/redis-db"
)

// newMonitoringServer serves the asynqmon dashboard and, when enabled, the
// worker metrics.
func newMonitoringServer(cnf *config.Configuration, svc *services) (*http.Server, error) {
	connOpt, err := redis_db.AsynqConnOpt(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: connOpt,
	})
	mux.Handle(h.RootPath()+"/", h)
	if svc.metrics != nil {
		mux.Handle("/metrics", svc.metrics.Handler())
	}

	return &http.Server{Addr: ":" + cnf.Queue.MonitoringPort, Handler: mux}, nil
}

// workerCommands defines the "workers" command. Workers take order jobs from
// the Redis backed queue and publish progress on the Redis bus, so they
// scale separately from the API.
func workerCommands(s *swapflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start swapflow workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cnf.Redis.Dns == "" {
				return errRedisRequired
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newServices(ctx, s.cnf)
			if err != nil {
				return fmt.Errorf("error setting up services: %w", err)
			}
			defer svc.close()

			if err := svc.startWorkers(ctx); err != nil {
				return err
			}

			monitor, err := newMonitoringServer(s.cnf, svc)
			if err != nil {
				return err
			}
			go func() {
				logrus.Infof("Asynqmon server listening on %s/monitoring", monitor.Addr)
				if err := monitor.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.WithError(err).Error("could not start asynqmon server")
				}
			}()

			<-ctx.Done()
			logrus.Info("shutting down workers")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return monitor.Shutdown(shutdownCtx)
		},
	}

	return cmd
}
