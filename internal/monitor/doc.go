// Package monitor is the controller behind every front end. It owns the
// node config, the model catalog, the supervised server process, its
// rendered console, host resource sampling, the chat test client and run
// history.
//
// One loop goroutine consumes the supervisor's output stream and is the
// only writer of the render buffer; front ends read snapshots.
package monitor
