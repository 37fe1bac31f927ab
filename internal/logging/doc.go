// Package logging provides file-based logging with rotation for
// searchcore. When the --debug flag is set, debug-level logs are written
// to ~/.searchcore/logs/server.log.
//
// The serve subcommand always logs to that file, at debug level with
// --debug and at info level without it. Other subcommands run without
// --debug use the default slog logger on stderr.
package logging
