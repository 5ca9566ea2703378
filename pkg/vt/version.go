package vt

// Version is the library version reported in the User-Agent header. Release
// builds override it with -ldflags "-X github.com/fivetwenty-io/vt-client/pkg/vt.Version=...".
var Version = "0.7.0"
