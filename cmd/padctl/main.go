package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"padbridge/internal/ipc"
	"padbridge/internal/sample"
)

// ============================================================================
// padctl - Command-line IPC Client
// ============================================================================
// This tool injects input into the padbridge daemon via IPC.
//
// Usage:
//   padctl up
//   padctl up+x
//   padctl hold left 500
//   padctl neutral
//   padctl samples recorded.json
//   padctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/padbridge.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/padbridge.sock"
	requestTimeout    = 2 * time.Second

	// holdInterval re-sends a held command well inside the daemon's
	// default idle threshold so it never times out to neutral.
	holdInterval = 50 * time.Millisecond
)

func main() {
	socketPath := defaultSocketPath

	// Parse arguments
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return

	case "neutral", "release":
		err = send(socketPath, ipc.Request{Type: ipc.TypeNeutral})

	case "status":
		err = printStatus(socketPath)

	case "samples":
		path := "-"
		if len(args) > 1 {
			path = args[1]
		}
		err = sendSamples(socketPath, path)

	case "hold":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: hold requires a combo and a duration in ms\n")
			os.Exit(1)
		}
		err = hold(socketPath, args[1], args[2])

	default:
		var cmd sample.Command
		cmd, err = parseCombo(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			printUsage()
			os.Exit(1)
		}
		err = send(socketPath, ipc.Request{Type: ipc.TypeCommand, Command: &cmd})
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func send(socketPath string, req ipc.Request) error {
	if _, err := ipc.Send(socketPath, req, requestTimeout); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func printStatus(socketPath string) error {
	resp, err := ipc.Send(socketPath, ipc.Request{Type: ipc.TypeStatus}, requestTimeout)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Data, "", "  "); err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	fmt.Println(out.String())
	return nil
}

// sendSamples replays a JSON array of samples from a file, or stdin for "-".
// The daemon keeps only the last one, exactly as with a transport batch.
func sendSamples(socketPath, path string) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}

	var batch []*sample.RawSample
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("decode samples: %w", err)
	}
	return send(socketPath, ipc.Request{Type: ipc.TypeSamples, Samples: batch})
}

// hold keeps a combo applied for the given number of milliseconds, then
// releases it. Ctrl+C releases early.
func hold(socketPath, combo, msArg string) error {
	cmd, err := parseCombo(combo)
	if err != nil {
		return err
	}
	ms, err := strconv.Atoi(msArg)
	if err != nil || ms <= 0 {
		return fmt.Errorf("invalid duration: %q", msArg)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	ticker := time.NewTicker(holdInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer deadline.Stop()

	req := ipc.Request{Type: ipc.TypeCommand, Command: &cmd}
	for {
		if _, err := ipc.Send(socketPath, req, requestTimeout); err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return send(socketPath, ipc.Request{Type: ipc.TypeNeutral})
		case <-sigc:
			return send(socketPath, ipc.Request{Type: ipc.TypeNeutral})
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `padctl - Inject gamepad input into the padbridge daemon via IPC

Usage:
  padctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/padbridge.sock)

Commands:
  <combo>                 Apply a combo once, e.g. up, upleft, x, down+y
  hold <combo> <ms>       Keep a combo applied, then release
  neutral, release        Release everything
  samples [FILE|-]        Send a JSON array of raw samples (stdin by default)
  status                  Print the daemon status
  help, -h, --help        Show this help message

A single combo is released by the daemon once input has been idle for its
idle threshold; use hold for longer presses.

Examples:
  padctl up+x
  padctl hold left 750
  echo '[{"ts":1,"direction":"Up","buttons":[0]}]' | padctl samples
  padctl -socket /run/padbridge.sock status
`)
}
