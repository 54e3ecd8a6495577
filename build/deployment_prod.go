//go:build !dev
// +build !dev

package build

// Deployment specifies a production build.
const Deployment = Production

// LogLevel is the level used by stdout sub loggers. Production builds only
// consult it when the stdlog tag is also set.
const LogLevel = "info"
