// Package logx wraps zerolog with reloadable sinks: a console writer on
// stderr, an optional JSON log file and an optional rate-limited operator
// alert channel.
package logx
