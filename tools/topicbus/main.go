// Command topicbus is the interactive topicbus client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Thejuampi/topicbus/client"
)

const noConnectionHint = "No connection established.\n" +
	"Use:\n" +
	"\tCONNECT <serverIP> <serverPort> <clientName>\n" +
	"\tCONNECT <serverPort> <clientName>\n"

type options struct {
	server string
	port   string
	name   string
	wsPath string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flagSet := flag.NewFlagSet("topicbus", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.server, "s", client.DefaultHost, "server IP address (shorthand)")
	flagSet.StringVar(&opts.server, "server", client.DefaultHost, "server IP address")
	flagSet.StringVar(&opts.port, "p", "", "server port (shorthand)")
	flagSet.StringVar(&opts.port, "port", "", "server port")
	flagSet.StringVar(&opts.name, "n", "", "client name (shorthand)")
	flagSet.StringVar(&opts.name, "name", "", "client name")
	flagSet.StringVar(&opts.wsPath, "ws-path", "", "connect over WebSocket at this path")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Argument parsing error: %v\n", err)
		return 1
	}

	topicbus := client.New(stdout)
	shell := client.NewShell(topicbus)
	shell.WebSocketPath = opts.wsPath

	if opts.port != "" && opts.name != "" {
		shell.Execute(ctx, strings.Join([]string{"CONNECT", opts.server, opts.port, opts.name}, " "))
	} else {
		_, _ = io.WriteString(topicbus.Output(), noConnectionHint)
	}

	done := make(chan error, 1)
	go func() {
		done <- shell.Run(ctx, stdin)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
	}

	_ = topicbus.Close()
	_, _ = io.WriteString(topicbus.Output(), "Exiting client...\n")
	if err != nil {
		fmt.Fprintf(stderr, "topicbus: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
