// Package daemon wires the stores, worker, and notification hub into a
// single long-running service. It enforces single-instance execution with
// a lock file, exposes the record and queue operations the control socket
// serves, and retains a bounded progress-event history that clients poll
// with a cursor.
package daemon
