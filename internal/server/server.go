// Package server serves a document root over HTTP with cross-origin
// isolation headers on every response.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/wasmserve/internal/config"
	"github.com/Kush-Singh-26/wasmserve/internal/metrics"
	"github.com/Kush-Singh-26/wasmserve/internal/mimetypes"
	"github.com/Kush-Singh-26/wasmserve/internal/watch"
)

// gzipETagSuffix is appended inside the quotes of ETags on gzip responses.
const gzipETagSuffix = "-gzip"

// Server owns the handler pipeline and the http.Server lifecycle.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	rootDir string // OS path of the root, used by the watcher
	metrics *metrics.ServeMetrics
	hub     *ReloadHub
	handler http.Handler
}

// New serves cfg.Root from the OS filesystem.
func New(cfg *config.Config, logger *slog.Logger, out io.Writer) (*Server, error) {
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root directory: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	root := afero.NewBasePathFs(afero.NewOsFs(), absRoot)
	return NewWithFs(cfg, root, absRoot, logger, out)
}

// NewWithFs serves root. rootDir is only needed when cfg.Watch is set.
func NewWithFs(cfg *config.Config, root afero.Fs, rootDir string, logger *slog.Logger, out io.Writer) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}

	types, err := mimetypes.New(cfg.MimeTypes)
	if err != nil {
		return nil, err
	}
	// Force register the WASM mime type
	if err := types.Register(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		rootDir: rootDir,
		metrics: metrics.NewServeMetrics(),
	}

	var files http.Handler = NewFileHandler(root, types, FileOptions{
		ETag:       cfg.ETag,
		SmartCache: cfg.Cache == config.CacheSmart,
	}, logger)
	files = CachePolicy(files, cfg.Cache)
	if cfg.Gzip {
		// Compressed bodies need their own strong validator.
		wrap, err := gzhttp.NewWrapper(gzhttp.SuffixETag(gzipETagSuffix))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		files = wrap(files)
	}

	mux := http.NewServeMux()
	mux.Handle("/", files)
	if cfg.Watch {
		s.hub = NewReloadHub()
		mux.Handle(ReloadPath, s.hub)
	}

	var accessLogger *slog.Logger
	if !cfg.Quiet {
		accessLogger = logger
	}
	s.handler = AccessLog(IsolationHeaders(mux, cfg.CORP), accessLogger, s.metrics)
	return s, nil
}

// Handler returns the full request pipeline.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the counters fed by the access log.
func (s *Server) Metrics() *metrics.ServeMetrics {
	return s.metrics
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watcherWg sync.WaitGroup
	if s.hub != nil {
		w, err := watch.New(s.rootDir, s.cfg.Debounce, func(ev watch.Event) {
			s.logger.Debug("Change detected", "path", ev.Name, "op", ev.Op.String())
			s.hub.Broadcast()
		}, s.logger)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("watch %s: %w", s.rootDir, err)
		}
		watcherWg.Add(1)
		go func() {
			defer watcherWg.Done()
			w.Run(ctx)
		}()
	}

	// Requests net/http rejects before routing (400 on a malformed request
	// line or headers) never reach s.handler and carry no isolation headers.
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	if s.hub != nil {
		// Streams never go idle on their own, so end them before Shutdown waits.
		httpServer.RegisterOnShutdown(s.hub.Close)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	_, _ = fmt.Fprintf(s.out, "Server running at http://%s\n", s.displayAddr(ln.Addr()))
	if s.cfg.Host == "0.0.0.0" || s.cfg.Host == "" {
		_, _ = fmt.Fprintln(s.out, "   (Accessible on your local network)")
	}
	if s.hub != nil {
		_, _ = fmt.Fprintf(s.out, "   (Auto-reload enabled via %s)\n", ReloadPath)
	}

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		_, _ = fmt.Fprintln(s.out, "\n🛑 Shutting down server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
		}
		cancelShutdown()
	}

	cancel()
	watcherWg.Wait()
	if s.hub != nil {
		s.hub.Close()
	}

	_, _ = fmt.Fprintln(s.out, s.metrics.String())
	if serveErr != nil {
		return serveErr
	}
	_, _ = fmt.Fprintln(s.out, "✅ Server stopped.")
	return nil
}

func (s *Server) displayAddr(addr net.Addr) string {
	port := strconv.Itoa(s.cfg.Port)
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	return net.JoinHostPort(s.cfg.DisplayHost(), port)
}
