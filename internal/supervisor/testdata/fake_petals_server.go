package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	mode := flag.String("mode", "progress", "progress|stubborn|exit|flood")
	code := flag.Int("code", 0, "exit code in exit mode")
	flag.Parse()

	switch *mode {
	case "progress":
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		fmt.Println("Loading blocks")
		time.Sleep(20 * time.Millisecond)
		for _, p := range []int{10, 50, 100} {
			fmt.Fprintf(os.Stderr, "\rDownloading: %d%%", p)
			time.Sleep(10 * time.Millisecond)
		}
		fmt.Fprintln(os.Stderr)
		fmt.Println("Server ready")
		<-sigCh
		fmt.Println("Shutting down")
	case "stubborn":
		signal.Ignore(syscall.SIGTERM, syscall.SIGINT)
		fmt.Println("ignoring SIGTERM")
		for {
			time.Sleep(time.Hour)
		}
	case "exit":
		fmt.Println("bye")
		os.Exit(*code)
	case "flood":
		for i := 0; i < 2000; i++ {
			fmt.Printf("line %d\n", i)
		}
	}
}
