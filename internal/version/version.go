package version

// Version is the current release.
const Version = "0.3.0"
