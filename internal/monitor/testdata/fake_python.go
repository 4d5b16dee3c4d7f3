package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// Stands in for "python3 -m petals.cli.run_server ...": echoes its argv,
// draws a progress bar, then serves until SIGTERM.
func main() {
	fmt.Println("argv: " + strings.Join(os.Args[1:], " "))
	if crash() {
		fmt.Fprintln(os.Stderr, "CUDA error: out of memory")
		os.Exit(1)
	}
	// Keep the argv line out of the first progress read.
	time.Sleep(20 * time.Millisecond)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	for _, p := range []int{25, 50, 75, 100} {
		fmt.Fprintf(os.Stderr, "Loading blocks: %d%%\r", p)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	fmt.Fprintln(os.Stderr)
	fmt.Println("Started")
	<-sigCh
	fmt.Println("Shutting down")
}

// crash reports whether this run should die at startup. FAKE_CRASH_ONCE names
// a marker file: the first run creates it and crashes, later runs serve.
func crash() bool {
	if os.Getenv("FAKE_MODE") == "crash" {
		return true
	}
	marker := os.Getenv("FAKE_CRASH_ONCE")
	if marker == "" {
		return false
	}
	if _, err := os.Stat(marker); err == nil {
		return false
	}
	_ = os.WriteFile(marker, []byte("crashed\n"), 0o600)
	return true
}
