package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shaiso/AgentHire/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(loadFn func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker loop with /healthz and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadFn()
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

func newMigrateCmd(loadFn func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadFn()
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}

func newRecoverCmd(loadFn func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Requeue jobs whose lease has expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadFn()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rt, err := a.newRuntime(store, nil, nil)
			if err != nil {
				return err
			}

			n, err := rt.RecoverExpiredLeases(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("lease recovery finished", "recovered", n)
			return nil
		},
	}
}

// serve работает до SIGINT/SIGTERM.
func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.logger.Info("starting agenthire-worker")

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	conn := a.connectMQ(ctx)
	if conn != nil {
		defer conn.Close()
	}

	rt, err := a.newRuntime(store, conn, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	w, err := worker.New(worker.Config{
		Runtime:      rt,
		Conn:         conn,
		Prefetch:     a.cfg.RabbitMQ.Prefetch,
		TickInterval: a.cfg.Scheduler.TickInterval,
		Concurrency:  a.cfg.Scheduler.Concurrency,
		WorkerID:     rt.WorkerID(),
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: a.cfg.Addr(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr, "worker_id", rt.WorkerID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		a.logger.Warn("http shutdown error", "error", sErr)
	}

	a.logger.Info("agenthire-worker stopped")
	return err
}
