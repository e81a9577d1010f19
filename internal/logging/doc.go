// Package logging builds slog loggers for the shelf daemon and CLI.
//
// Two output formats are supported: a compact console format rendered as
// "TIMESTAMP LEVEL component: message key=value" lines, and standard slog
// JSON. Attribute helpers and field-name constants keep log keys consistent
// across components.
package logging
