// Package terminal runs interactive shells inside local PTYs and ties each
// one to the websocket connection that asked for it.
//
// # Core Components
//
//   - [Handle]: one shell process with its PTY, output subscriptions and state.
//   - [Registry]: process-wide table of connection ID → Handle. Every create,
//     lookup and release goes through it, so a connection never owns more
//     than one live handle.
//   - [Manager]: spawns shells through the Registry with the configured shell,
//     working directory and session environment.
//   - [RateLimiter]: token bucket for terminal input messages.
//
// # Handle Lifecycle
//
//  1. [Manager.Create] builds a handle in [StateSpawning] and starts the
//     shell. A spawn failure returns [ErrResourceUnavailable] and the handle
//     is discarded.
//  2. Once the PTY is up the handle is [StateRunning]. One goroutine reads
//     the PTY and hands each chunk, in order, to every subscriber.
//  3. [Handle.Terminate] (explicit release, replacement, or shell exit) moves
//     it to [StateTerminated]: subscribers are dropped, the process is killed
//     and reaped. Terminate is idempotent.
//
// Writes to a terminated or unknown handle are dropped without error; a
// disconnect can race an in-flight keystroke and that is expected.
//
// # Replacement Policy
//
// A second create for the same connection replaces the first: the old shell
// is terminated before the new one is spawned.
package terminal
