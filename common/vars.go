// Package common holds process-wide settings shared by the binaries.
package common

// Version is set at build time with -ldflags "-X github.com/ruteri/groupshare/common.Version=...".
var Version = "dev"

// PackageName is the service name reported in logs and metrics.
const PackageName = "groupshare"
