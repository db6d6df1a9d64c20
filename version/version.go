// Package version exposes build metadata set through ldflags.
package version

//nolint:gochecknoglobals // Set via ldflags at build time.
var (
	version = "1.3.0-dev"
	name    = "ncmdump"
	commit  = "undefined"
	date    = "undefined"
)

// Commit returns the compile time commit.
func Commit() string {
	return commit
}

// Version returns the compile time version.
func Version() string {
	return version
}

// Name returns the compile time name.
func Name() string {
	return name
}

// Date returns the compile time build date.
func Date() string {
	return date
}

// String returns the version line printed by the CLI.
func String() string {
	return Version() + " (" + Commit() + " - " + Date() + ")"
}
