package tsubame

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Toolchain is the single set of target parameters every stage builds against.
// It is constructed once in Main and passed by value; nothing mutates it after
// that, so binutils, both GCC stages, musl and GDB are guaranteed to see the
// same triple/ISA/ABI. A toolchain whose components disagree on the ABI links
// fine and then miscompiles, which is why this is one record and not a set of
// per-recipe strings.
type Toolchain struct {
	Triple  string // e.g. riscv64-linux-musl
	ISA     string // -with-arch value, e.g. rv64imafc
	ABI     string // -with-abi value, e.g. lp64f
	Prefix  string // install prefix, e.g. /opt/riscv
	Sysroot string // target root view, usually Prefix/Triple
	Jobs    int    // make parallelism, >= 1
}

// newToolchain builds the process-wide toolchain record from config values.
func newToolchain(cfg *Config) Toolchain {
	tc := Toolchain{
		Triple: cfg.Values["TSUBAME_TRIPLE"],
		ISA:    cfg.Values["TSUBAME_ISA"],
		ABI:    cfg.Values["TSUBAME_ABI"],
		Prefix: cfg.Values["TSUBAME_PREFIX"],
	}
	if tc.Triple == "" {
		tc.Triple = "riscv64-linux-musl"
	}
	if tc.ISA == "" {
		// Single-float embedded profile. This is also the configuration where
		// musl's double-precision asm routines are known to fail to assemble,
		// hence the fallback path for that one component.
		tc.ISA = "rv64imafc"
	}
	if tc.ABI == "" {
		tc.ABI = "lp64f"
	}
	if tc.Prefix == "" {
		tc.Prefix = "/opt/riscv"
	}
	tc.Sysroot = cfg.Values["TSUBAME_SYSROOT"]
	if tc.Sysroot == "" {
		tc.Sysroot = filepath.Join(tc.Prefix, tc.Triple)
	}
	tc.Jobs = buildJobs(cfg)
	return tc
}

// Env renders the environment table a stage runs under. The prefix bin dir is
// prepended to PATH so stage 1's cross tools are what musl and stage 2 pick
// up; nothing here mutates the ambient process environment.
func (tc Toolchain) Env(extra map[string]string) []string {
	vars := map[string]string{
		"LC_ALL":    "POSIX",
		"PATH":      filepath.Join(tc.Prefix, "bin") + ":/usr/bin:/bin",
		"MAKEFLAGS": fmt.Sprintf("-j%d", tc.Jobs),
	}
	for k, v := range extra {
		vars[k] = v
	}

	// Sort keys for deterministic order
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// CrossPrefix is the tool name prefix of the cross toolchain, e.g.
// "riscv64-linux-musl-".
func (tc Toolchain) CrossPrefix() string {
	return tc.Triple + "-"
}

func (tc Toolchain) String() string {
	return strings.Join([]string{tc.Triple, tc.ISA, tc.ABI}, " ")
}
