// Package logging configures log/slog for mirmod binaries.
//
// Packages log through slog.Default().With("component", ...); binaries
// call Setup once with the "logging" section of the configuration:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package logging
