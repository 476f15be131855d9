// Package version holds the build version, overridden with
// -ldflags "-X subforge/internal/version.Version=...".
package version

var Version = "0.4.0"
