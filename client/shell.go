package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Thejuampi/topicbus/transport"
)

// DefaultHost is the broker host used by a two-argument CONNECT.
const DefaultHost = "127.0.0.1"

const (
	connectUsage = "Invalid CONNECT command. Use:\n" +
		"  CONNECT <serverIP> <serverPort> <clientName>\n" +
		"  CONNECT <serverPort> <clientName>\n"
	publishUsage     = "Invalid PUBLISH command. Use:\n  PUBLISH <topic> <data>\n"
	subscribeUsage   = "Usage: SUBSCRIBE <topic>\n"
	unsubscribeUsage = "Invalid UNSUBSCRIBE command. Use:\n  UNSUBSCRIBE <topic>\n"
	commandList      = "Invalid command! Use:\n" +
		"  CONNECT <serverIP> <serverPort> <clientName>\n" +
		"  CONNECT <serverPort> <clientName>\n" +
		"  DISCONNECT\n" +
		"  PUBLISH <topic> <data>\n" +
		"  SUBSCRIBE <topic>\n" +
		"  UNSUBSCRIBE <topic>\n"
)

// Shell is the interactive command loop of the client binary. It validates
// argument counts locally and forwards commands through its Client.
type Shell struct {
	client *Client
	output io.Writer

	// WebSocketPath, when set, makes CONNECT dial ws://host:port/<path>
	// instead of TCP.
	WebSocketPath string
}

// NewShell returns a shell driving client and printing to the client's
// output.
func NewShell(client *Client) *Shell {
	return &Shell{client: client, output: client.Output()}
}

func (shell *Shell) print(text string) {
	_, _ = io.WriteString(shell.output, text)
}

// Run executes input line by line until "exit", end of input, or ctx is
// done.
func (shell *Shell) Run(ctx context.Context, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if !shell.Execute(ctx, scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}

// Execute runs one input line. It returns false when the line asks the shell
// to exit.
func (shell *Shell) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	command, args := fields[0], fields[1:]

	switch command {
	case "exit":
		return false
	case "CONNECT":
		shell.connect(ctx, args)
	case "DISCONNECT":
		shell.report(shell.client.Disconnect())
	case "PUBLISH":
		if len(args) < 2 {
			shell.print(publishUsage)
			return true
		}
		shell.report(shell.client.Publish(args[0], strings.Join(args[1:], " ")))
	case "SUBSCRIBE":
		if len(args) != 1 {
			shell.print(subscribeUsage)
			return true
		}
		shell.report(shell.client.Subscribe(args[0]))
	case "UNSUBSCRIBE":
		if len(args) != 1 {
			shell.print(unsubscribeUsage)
			return true
		}
		shell.report(shell.client.Unsubscribe(args[0]))
	default:
		shell.print(commandList)
	}
	return true
}

func (shell *Shell) connect(ctx context.Context, args []string) {
	if len(args) < 2 || len(args) > 3 {
		shell.print(connectUsage)
		return
	}
	if shell.client.Connected() {
		shell.print("[WARNING] Already connected\n")
		return
	}

	host := DefaultHost
	if len(args) == 3 {
		host, args = args[0], args[1:]
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		shell.print(connectUsage)
		return
	}

	// Connect prints its own success or failure line.
	_ = shell.client.Connect(ctx, transport.URI(host, port, shell.WebSocketPath), args[1])
}

func (shell *Shell) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected):
		shell.print("ERROR: Not connected to any server.\n")
	case errors.Is(err, ErrAlreadyConnected):
		shell.print("[WARNING] Already connected\n")
	default:
		shell.print(fmt.Sprintf("[ERROR] Failed to send command. Connection lost. (%v)\n", err))
	}
}
