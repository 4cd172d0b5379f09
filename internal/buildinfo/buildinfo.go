// Package buildinfo carries commit metadata injected at build time:
//
//	go build -ldflags "-X luxagent/internal/buildinfo.CommitSHA=$(git rev-parse HEAD) \
//	                   -X luxagent/internal/buildinfo.CommitTimestamp=$(git show -s --format=%cI HEAD)"
package buildinfo

var (
	CommitSHA       = "unknown"
	CommitTimestamp = "unknown"
)
