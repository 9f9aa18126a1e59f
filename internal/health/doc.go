// Package health provides composable liveness/readiness probes and the
// HTTP handlers that expose them on /-/healthy and /-/ready.
package health
