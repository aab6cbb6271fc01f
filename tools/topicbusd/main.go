// Command topicbusd runs the topicbus broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/topicbus/broker"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	host             string
	port             int
	wsAddr           string
	adminAddr        string
	writeTimeout     time.Duration
	maxLine          int
	evictEmptyTopics bool
	debug            bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flagSet := flag.NewFlagSet("topicbusd", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVar(&opts.port, "l", broker.DefaultPort, "TCP listen port (shorthand)")
	flagSet.IntVar(&opts.port, "listen", broker.DefaultPort, "TCP listen port")
	flagSet.StringVar(&opts.host, "host", "0.0.0.0", "TCP listen host")
	flagSet.StringVar(&opts.wsAddr, "ws", "", "WebSocket listen address, e.g. :2000 (serves "+broker.DefaultWebSocketPath+")")
	flagSet.StringVar(&opts.adminAddr, "admin", "", "admin API listen address, e.g. :8085")
	flagSet.DurationVar(&opts.writeTimeout, "write-timeout", broker.DefaultWriteTimeout, "per-write deadline, negative disables")
	flagSet.IntVar(&opts.maxLine, "max-line", broker.DefaultMaxLineLength, "maximum command line length in bytes")
	flagSet.BoolVar(&opts.evictEmptyTopics, "evict-empty-topics", false, "drop topics whose last subscriber left")
	flagSet.BoolVar(&opts.debug, "debug", false, "development logging")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	if opts.port <= 0 || opts.port > 65535 {
		return options{}, fmt.Errorf("invalid port %d", opts.port)
	}
	if opts.maxLine <= 0 {
		return options{}, fmt.Errorf("invalid max-line %d", opts.maxLine)
	}
	return opts, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Argument parsing error: %v\n", err)
		return 1
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		fmt.Fprintf(stderr, "topicbusd: logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	server := broker.NewServer(broker.Config{
		Addr:             net.JoinHostPort(opts.host, strconv.Itoa(opts.port)),
		WriteTimeout:     opts.writeTimeout,
		MaxLineLength:    opts.maxLine,
		EvictEmptyTopics: opts.evictEmptyTopics,
	}, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(groupCtx)
	})
	if opts.wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(broker.DefaultWebSocketPath, server.WebSocketHandler())
		group.Go(func() error {
			return serveHTTP(groupCtx, "websocket", opts.wsAddr, mux, logger)
		})
	}
	if opts.adminAddr != "" {
		group.Go(func() error {
			return serveHTTP(groupCtx, "admin", opts.adminAddr, server.AdminHandler(), logger)
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error("topicbusd stopped", zap.Error(err))
		return 1
	}
	return 0
}

// serveHTTP serves handler on addr until ctx is done, then shuts down.
func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, logger *zap.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", name, addr, err)
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("http listening", zap.String("server", name), zap.String("addr", listener.Addr().String()))

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("%s: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", name, err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
