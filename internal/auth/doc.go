// Package auth validates the JWT bearer tokens presented to the
// management API. Token issuance lives in the deployment's identity
// system; this package only checks signatures and claims against the
// shared HS256 secret.
package auth
