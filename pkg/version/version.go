// Package version holds the build version of paragraf.
package version

// Version is the current paragraf version.
// Overridden at build time via -ldflags "-X github.com/paragraf/paragraf/pkg/version.Version=...".
var Version = "0.3.0-dev"
