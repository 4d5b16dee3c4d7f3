// Package supervisor runs at most one child process at a time and relays its
// console output. It is structured into small files by concern:
//
//   - supervisor.go: Supervisor, Start/Stop and the reader/waiter goroutines.
//   - state.go: the idle → starting → running → stopping → idle machine.
//   - errors.go: UsageError, SpawnError, ExitError and Is* helpers.
//   - events.go: Output stream messages and lifecycle EventPublisher.
//   - metrics.go: Prometheus collectors.
//   - proc_unix.go / proc_windows.go: process-group signalling.
//
// Output is delivered on a single channel. Chunks of one run arrive in read
// order and are followed by exactly one message carrying the ExitStatus.
package supervisor
