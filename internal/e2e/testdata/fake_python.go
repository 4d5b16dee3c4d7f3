package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// Plays a petals server for end-to-end runs: echoes argv, redraws a
// progress line in place and blocks until signalled.
func main() {
	fmt.Println("argv: " + strings.Join(os.Args[1:], " "))
	time.Sleep(20 * time.Millisecond)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	for _, p := range []int{25, 50, 75, 100} {
		fmt.Fprintf(os.Stderr, "\rLoading blocks: %d%%", p)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	fmt.Fprintln(os.Stderr)
	fmt.Println("Started")
	<-sigCh
	fmt.Println("Shutting down")
}
