// Package backend defines task kinds and executes them.
//
// A task kind is a named [Definition] holding a Validate function, an
// Execute function and submission defaults. Kinds are added to a [Registry]
// by registration; the registry itself implements [Executor], which is the
// interface workers run tasks through.
//
// Built-in kinds:
//   - "echo" returns its params unchanged
//   - "sleep" waits for duration_ms (honoring cancellation) and returns its params
//   - "exec" runs a command and returns {stdout, stderr, exit_code}
package backend
