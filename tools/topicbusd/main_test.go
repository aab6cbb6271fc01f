package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.port != 1999 || opts.host != "0.0.0.0" || opts.writeTimeout != 10*time.Second || opts.maxLine != 4096 {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestParseFlagsShorthandAndLongForms(t *testing.T) {
	opts, err := parseFlags([]string{"-l", "2001", "-ws", ":2002", "-admin", ":8085", "-evict-empty-topics", "-debug"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.port != 2001 || opts.wsAddr != ":2002" || opts.adminAddr != ":8085" || !opts.evictEmptyTopics || !opts.debug {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = parseFlags([]string{"-listen", "2003"}, &bytes.Buffer{})
	if err != nil || opts.port != 2003 {
		t.Fatalf("long form: %+v, %v", opts, err)
	}
}

func TestRunExitCodes(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want int
	}{
		{name: "help", args: []string{"-h"}, want: 0},
		{name: "unknown flag", args: []string{"-bogus"}, want: 1},
		{name: "bad port", args: []string{"-l", "70000"}, want: 1},
		{name: "stray argument", args: []string{"extra"}, want: 1},
		{name: "bad max line", args: []string{"-max-line", "0"}, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if code := run(context.Background(), tc.args, &stderr); code != tc.want {
				t.Fatalf("run(%v) = %d, want %d (stderr: %s)", tc.args, code, tc.want, stderr.String())
			}
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

func TestRunFailsWhenPortIsTaken(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()
	port := strconv.Itoa(occupied.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if code := run(ctx, []string{"-host", "127.0.0.1", "-l", port}, &bytes.Buffer{}); code != 1 {
		t.Fatalf("run on taken port = %d, want 1", code)
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	args := []string{
		"-host", "127.0.0.1",
		"-l", strconv.Itoa(freePort(t)),
		"-ws", "127.0.0.1:" + strconv.Itoa(freePort(t)),
		"-admin", "127.0.0.1:" + strconv.Itoa(freePort(t)),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if code := run(ctx, args, &bytes.Buffer{}); code != 0 {
		t.Fatalf("run = %d, want 0", code)
	}
}
