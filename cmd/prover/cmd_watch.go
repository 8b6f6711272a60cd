// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dEAduction/dEAduction-sub003/services/prover/checker"
	"github.com/dEAduction/dEAduction-sub003/services/prover/telemetry"
)

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := env.openSession(ctx)
	if err != nil {
		return err
	}
	defer env.stopSession(s)

	c, err := env.openChecker(s, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	if metricsAddr != "" {
		srv := newMetricsServer(metricsAddr)
		env.logger.Info("Serving metrics", "addr", metricsAddr)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return c.Watch(gctx, args[0], func(res *checker.Result, err error) {
			env.out.Title(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), args[0]))
			if err != nil {
				env.out.Error(err.Error())
				return
			}
			printResult(env.out, res)
		})
	})

	return g.Wait()
}

// newMetricsServer serves /metrics from the telemetry registry, falling
// back to the default Prometheus registry when otel metrics are off.
func newMetricsServer(addr string) *http.Server {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
