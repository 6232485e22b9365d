package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// StatusHooks feed GET /api/status.
type StatusHooks struct {
	ActiveSessions func() int
	Warnings       func() []string
}

type Options struct {
	Hub            *Hub
	Store          SessionStore
	Dispatcher     Dispatcher
	AllowedOrigins []string
	Status         StatusHooks
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func Handler(opts Options) (http.Handler, error) {
	if opts.Hub == nil || opts.Store == nil || opts.Dispatcher == nil {
		return nil, errors.New("server: hub, store and dispatcher are required")
	}

	mux := http.NewServeMux()

	registerWSRoute(mux, opts.Hub, opts.Dispatcher, opts.AllowedOrigins)
	registerAPIRoutes(mux, opts.Store, opts.Status)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return mux, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, addr string, opts Options) error {
	h, err := Handler(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	opts.Hub.CloseAll()
	if err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
