/*
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/logging"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/operator"
	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/operator/options"
)

func main() {
	opts := options.New().MustParse()
	logger := logging.NewLogger(opts.Debug)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)
	ctx = opts.ToContext(ctx)

	ctx, op := operator.NewOperator(ctx, opts)

	go serveMetrics(ctx, opts.MetricsPort)

	logger.Infow("starting erasure orchestrator",
		"environment", opts.EnvironmentName, "requests-table", opts.RequestsTable, "workers", opts.WorkerCount)
	if err := op.Trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalw("trigger controller exited", "error", err)
	}
	logger.Infow("shutting down")
}

func serveMetrics(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.FromContext(ctx).Errorw("metrics server exited", "error", err)
	}
}
