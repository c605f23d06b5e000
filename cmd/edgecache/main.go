package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/edgecache/internal/cache"
	"github.com/wudi/edgecache/internal/codec"
	"github.com/wudi/edgecache/internal/config"
	"github.com/wudi/edgecache/internal/cors"
	"github.com/wudi/edgecache/internal/logging"
	"github.com/wudi/edgecache/internal/memprobe"
	"github.com/wudi/edgecache/internal/pipeline"
	"github.com/wudi/edgecache/internal/reqmemo"
	"github.com/wudi/edgecache/internal/reverseproxy"
	"github.com/wudi/edgecache/internal/router"
	"github.com/wudi/edgecache/internal/swr"
)

const persistInterval = 5 * time.Second

func main() {
	logger, closer, err := logging.New(logging.Config{Level: "info", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	logging.SetGlobal(logger)

	cfg := config.Load()

	maxBytes, err := memprobe.Budget()
	if err != nil {
		logging.Warn("memprobe: falling back to a fixed cache budget", zap.Error(err))
		maxBytes = 256 << 20
	}

	store := cache.New(cache.Config{MaxBytes: maxBytes})

	persister := cache.NewPersister(store, os.TempDir())
	if err := persister.Load(); err != nil {
		logging.Warn("cache: failed to load sidecar on startup", zap.Error(err))
	}

	stop := make(chan struct{})
	persister.StartPeriodicDump(persistInterval, stop, func(err error) {
		logging.Warn("cache: periodic dump failed", zap.Error(err))
	})

	pool := codec.New()
	if !pool.BrotliAvailable() {
		logging.Warn("codec: brotli unavailable at startup, falling back to gzip as canonical")
	}

	routes := router.Compile(buildRoutes(pool))
	memo := reqmemo.New()
	engine := swr.New(store, pool, &zapWarner{logging.Global()})
	corsHandler := cors.New(cors.Config{Enabled: true, AllowOrigins: []string{"*"}})

	handler := pipeline.New(routes, memo, engine, pool, corsHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("edgecache: listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("edgecache: server error", zap.Error(err))
	case <-quit:
		logging.Info("edgecache: shutting down")
	}

	close(stop)
	if err := persister.Dump(); err != nil {
		logging.Warn("cache: final dump failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Error("edgecache: shutdown error", zap.Error(err))
	}
}

// zapWarner adapts *zap.Logger to swr.Logger.
type zapWarner struct {
	logger *zap.Logger
}

func (z *zapWarner) Warn(msg string, keysAndValues ...any) {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	z.logger.Warn(msg, fields...)
}

// buildRoutes is the application's route table, compiled once at startup.
// Later-declared routes take precedence on an overlapping pattern.
func buildRoutes(pool *codec.Pool) []*router.Spec {
	client := reverseproxy.Transport()

	usersProxy, err := reverseproxy.Route("/users/:id", "http://localhost:4000/users/:id", reverseproxy.Options{Cacheable: true}, client, pool)
	if err != nil {
		logging.Error("edgecache: failed to compile route", zap.Error(err))
		return nil
	}

	return []*router.Spec{usersProxy}
}
