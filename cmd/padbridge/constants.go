package main

import "time"

const (
	envPrefix = "PADBRIDGE_"

	defaultSocketPath = "/tmp/padbridge.sock"
	defaultHTTPListen = "127.0.0.1:3002"
	defaultUInputPath = "/dev/uinput"

	defaultLogMaxSizeMB  = 20
	defaultLogMaxBackups = 3
	defaultLogMaxAgeDays = 14

	// shutdownNeutralTimeout bounds the final Neutral() applied on exit.
	shutdownNeutralTimeout = 500 * time.Millisecond

	// statusRecent is how many actuations the status tracker keeps.
	statusRecent = 32

	serviceName = "padbridge"
)

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
