//go:build dev
// +build dev

package build

// Deployment specifies a development build.
const Deployment = Development

// LogLevel is the level used by stdout sub loggers in development builds.
const LogLevel = "debug"
