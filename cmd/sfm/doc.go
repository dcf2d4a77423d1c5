// Package main implements the sfm operator CLI.
//
// The CLI runs the status update consumer against the message bus, exports
// and imports collection record snapshots, and offers read-only views of the
// record store. Configuration is loaded lazily on first use so that commands
// such as `config init` work before a config file exists.
package main
