package tsubame

import (
	"runtime"
	"strconv"
)

// buildJobs returns the make parallelism for compile steps. TSUBAME_JOBS wins
// when set, TSUBAME_PRIORITY=idle halves the core count, superidle builds on a
// single core. Never returns less than 1.
func buildJobs(cfg *Config) int {
	if v := cfg.Values["TSUBAME_JOBS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
		debugf("Ignoring invalid TSUBAME_JOBS=%q\n", v)
	}

	switch cfg.Values["TSUBAME_PRIORITY"] {
	case "idle":
		return max(runtime.NumCPU()/2, 1)
	case "superidle":
		return 1
	default:
		return max(runtime.NumCPU(), 1)
	}
}
