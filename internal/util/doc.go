// Package util provides small helpers shared across the service-oauth packages.
//
// Key utilities:
//   - SafeTruncate: prefixes of state values for debug logs
//   - NormalizeURL: trailing-slash normalization of redirect bases
//   - IsLoopbackHostname: allows plain-HTTP redirect URIs on loopback hosts only
package util
