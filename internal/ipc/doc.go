// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and conversions
// between store models and lightweight wire representations. ProgressTail
// gives clients cursor-based access to the daemon's retained enrichment
// events so a CLI can follow a batch without holding a subscription open.
package ipc
