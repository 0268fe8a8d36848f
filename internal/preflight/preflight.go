package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vidscribe/internal/config"
	"vidscribe/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
	// Fatal marks checks the daemon cannot start without.
	Fatal bool `json:"fatal,omitempty"`
}

// RunAll executes every check for cfg.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		fatal(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
		fatal(CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir)),
	}
	for _, status := range deps.CheckBinaries(deps.PipelineRequirements(cfg)) {
		detail := status.Detail
		if status.Available {
			detail = status.Path
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}
	return results
}

// FirstFatal returns the first failed check marked fatal.
func FirstFatal(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Fatal && !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}

// CheckDirectoryAccess verifies that path is a directory the process can
// read, write and traverse.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func fatal(r Result) Result {
	r.Fatal = true
	return r
}
