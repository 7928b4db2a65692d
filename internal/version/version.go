package version

import "github.com/fatih/color"

// Version information for the rivet CLI.
// These variables can be overridden at build time via -ldflags.

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)

	major  = "0"
	minor  = "1"
	patch  = "0"
	suffix = "-dev"

	// Version is the semantic version of the CLI, colorized for the
	// terminal.
	Version = versionMajorColor.Sprint(major) + "." + versionMinorColor.Sprint(minor) + "." + versionPatchColor.Sprint(patch) + suffix

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Plain returns the version string without color escapes, for machine
// consumption.
func Plain() string {
	return major + "." + minor + "." + patch + suffix
}
