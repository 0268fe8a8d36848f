// Package preflight runs the readiness checks the daemon performs at start
// and reports through /api/status: writable log and work directories and
// the presence of the pipeline's external tools.
package preflight
