// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc.
package build

var (
	// Version is the build version of the application.
	Version = "dev"

	// Commit is the commit hash the application was built from.
	Commit = "none"

	// Date is the build date of the application.
	Date = "unknown"

	// ProjectName is the name of the project, used as the namespace of exported metrics.
	ProjectName = "fnharness"
)
