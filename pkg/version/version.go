package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// Info is what /api/v1/version reports.
type Info struct {
	Build string `json:"build"`
}

func Current() Info { return Info{Build: Build} }
