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
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/worms/services/worms/telemetry"
)

// newMetricsRouter serves /metrics from the Prometheus registry and a
// /healthz probe.
func newMetricsRouter(service string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})
	return router
}

// metricsServer runs the metrics router for the lifetime of one command.
type metricsServer struct {
	srv    *http.Server
	addr   string
	done   chan error
	logger *slog.Logger
}

// startMetricsServer binds addr before returning so that a taken port
// fails the command instead of a background goroutine.
func startMetricsServer(addr, service string, logger *slog.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	m := &metricsServer{
		srv: &http.Server{
			Handler:           newMetricsRouter(service),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr:   ln.Addr().String(),
		done:   make(chan error, 1),
		logger: logger,
	}
	go func() {
		err := m.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		m.done <- err
	}()
	logger.Info("serving metrics", slog.String("address", m.addr))
	return m, nil
}

// Addr returns the bound address, useful when addr asked for port 0.
func (m *metricsServer) Addr() string { return m.addr }

// Shutdown stops the server and waits for Serve to return.
func (m *metricsServer) Shutdown(ctx context.Context) error {
	err := m.srv.Shutdown(ctx)
	if serveErr := <-m.done; serveErr != nil {
		err = errors.Join(err, serveErr)
	}
	return err
}
