// Command probe is a minimal one-shot TCP connectivity check, usable
// as a container HEALTHCHECK or a manual smoke test of a backend
// address. It exits 0 if a TCP connect to the target succeeds within
// the timeout, and 1 otherwise.
//
// Usage:
//
//	probe <host:port> [timeout]
//
// timeout defaults to 3s and accepts any time.ParseDuration string.
package main

import (
	"fmt"
	"net"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: probe <host:port> [timeout]")
		os.Exit(1)
	}

	addr := os.Args[1]
	timeout := 3 * time.Second
	if len(os.Args) >= 3 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe: invalid timeout %q: %v\n", os.Args[2], err)
			os.Exit(1)
		}
		timeout = d
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(1)
	}
	conn.Close()
	os.Exit(0)
}
