// Package version holds the release version reported by the aggregate CLI.
package version

// Current is the semver of this build, without a leading "v".
const Current = "1.0.0"
