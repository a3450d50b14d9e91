package ormql

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eddieafk/ormql/internal/config"
	"github.com/eddieafk/ormql/internal/logger"
)

// RunInit writes a starter config file
func RunInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file to create")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.WriteDefault(*path, *force); err != nil {
		if errors.Is(err, config.ErrExists) {
			return fmt.Errorf("%w, use --force to overwrite", err)
		}
		return err
	}
	fmt.Fprintf(out, "Created %s\n", *path)
	fmt.Fprintln(out, "Next: edit the models section and run 'ormql serve'")
	return nil
}

// RunSchema prints the SDL generated from the config file
func RunSchema(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, *path, cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer a.close()

	for _, err := range a.host.Errors() {
		fmt.Fprintf(out, "# skipped: %v\n", err)
	}
	s, _ := a.host.Schema()
	_, err = io.WriteString(out, s.TypeDefs)
	return err
}

// RunServe serves the generated API until SIGINT or SIGTERM
func RunServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file")
	watch := fs.Bool("watch", false, "remount when the config file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	logger.Init(cfg.Env)
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *path, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	for _, err := range a.host.Errors() {
		log.Warn("contribution skipped", zap.Error(err))
	}
	if *watch {
		go func() {
			if err := a.watch(ctx); err != nil {
				log.Error("config watch stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	a.host.Routes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", cfg.Server.Addr), zap.String("path", cfg.Server.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
