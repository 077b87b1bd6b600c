/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

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

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/swapflow/api"
	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/internal/subscribers"
)

/*
newTLSServer builds an HTTPS server with certificates managed by CertMagic.
If no domain is specified, the certificate is issued for localhost.
*/
func newTLSServer(ctx context.Context, r *gin.Engine, conf config.ServerConfig) (*http.Server, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		logrus.Warn("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}, nil
}

// serve runs srv until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, tls bool) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

/*
serverCommands returns the command that starts the HTTP API and the live
update endpoint. Without Redis the workers run in the same process.
*/
func serverCommands(s *swapflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start swapflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newServices(ctx, s.cnf)
			if err != nil {
				return fmt.Errorf("error setting up services: %w", err)
			}
			defer svc.close()

			registry := subscribers.NewRegistry(svc.metrics)
			defer registry.CloseAll()
			go registry.Run(ctx, svc.bus)

			if svc.embedded() {
				if err := svc.startWorkers(ctx); err != nil {
					return err
				}
			}

			router := api.NewAPI(svc.swapflow, registry, svc.metrics, s.cnf).Router()
			srv := &http.Server{Addr: ":" + s.cnf.Server.Port, Handler: router}
			if s.cnf.Server.SSL {
				srv, err = newTLSServer(ctx, router, s.cnf.Server)
				if err != nil {
					return err
				}
			}

			logrus.Infof("Starting server on :%s", s.cnf.Server.Port)
			return serve(ctx, srv, s.cnf.Server.SSL)
		},
	}

	return cmd
}
