// Package connection implements the non-blocking socket layer of the services
// daemon: a process-wide [Registry] of [Connection] values, each owning a send
// queue and a receive queue built from fixed-size chunks.
//
// # Execution Model
//
// Nothing in this package blocks, spawns goroutines, or locks. Every method is
// expected to be called from a single goroutine, typically the readiness
// driver (see the poller package), which invokes a connection's read handler
// when its descriptor is readable and its write handler when it is writable.
// The driver is informed of interest changes through the [Poller] interface.
//
// # Data Connections
//
// Ordinary connections use [Connection.Pump] as their read handler. Pump moves
// bytes from the socket into the receive queue, then repeatedly calls the
// receive handler, which consumes framed data using [Connection.DrainLine] or
// [Connection.DrainRaw]. Outbound data is queued with [Connection.Enqueue];
// the queue arms [Connection.Flush] as the write handler whenever it becomes
// non-empty, and disarms it once drained.
//
// # Teardown
//
// All failure paths converge on the close handler, which is invoked at most
// once per connection:
//   - [Registry.Close] tears a connection down immediately
//   - [Registry.CloseSoon] marks it dead, to be reclaimed by [Registry.Reap]
//   - [Connection.RequestEOF] half-closes after all queued output is flushed
//
// # Platform Support
//
// Socket operations are implemented using golang.org/x/sys/unix, on Linux and
// Darwin. On other platforms, operations touching descriptors return
// [ErrUnsupported].
package connection
