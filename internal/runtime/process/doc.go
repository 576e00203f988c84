// Package process supervises a single locally spawned command.
//
// Stdout and stderr of the child are merged into one temporary file that the
// child writes directly, so reading never blocks and sibling processes never
// share output state. Exit is observed by a waiter goroutine that records the
// exit code and closes the channel returned by Done.
//
// Interrupt and Kill target the child's whole process group on Unix, where the
// child is started with Setpgid. On Windows only the direct child is signalled,
// and Interrupt degrades to Kill because console interrupts cannot be delivered
// to a single process; grandchildren may survive and must be cleaned up by
// the caller.
package process
