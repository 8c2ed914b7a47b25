package tsubame

import (
	"fmt"
	"path/filepath"
)

// Component versions. Stage 1 and stage 2 are the same GCC release configured
// twice; bumping gccVersion bumps both.
const (
	binutilsVersion = "2.42"
	gmpVersion      = "6.3.0"
	mpfrVersion     = "4.2.1"
	mpcVersion      = "1.3.1"
	islVersion      = "0.26"
	gccVersion      = "13.2.0"
	muslVersion     = "1.2.5"
	gdbVersion      = "14.2"
)

// Recipe describes one component of the toolchain as data: where its source
// comes from, what must be built before it, and the exact configure/make
// invocations. The table in DefaultRecipes is the only place recipes are
// defined; the stage runner is generic.
type Recipe struct {
	Name    string
	Version string

	// SourceName groups recipes that share one extracted tree. Both GCC
	// stages build from the same tarball, in separate build directories.
	SourceName string
	Source     string // upstream tarball URL
	Checksum   string // blake3 of the tarball; empty skips verification

	DependsOn []string

	ConfigureArgs func(tc Toolchain) []string
	// MakeVars are appended to both the build and install make invocations
	// (CROSS_COMPILE=..., DESTDIR=...).
	MakeVars       func(tc Toolchain) []string
	BuildTargets   []string
	InstallTargets []string

	// FreshWorkDir forces the build directory to be removed and recreated
	// before configure. Stage 2 of GCC needs this: a configure cache left by
	// the reduced stage 1 pass is unsafe to reuse under the full feature set.
	FreshWorkDir bool

	// InTree marks recipes whose configure must run inside the source tree
	// (musl). Everything else builds out-of-tree.
	InTree bool

	// Recoverable stages may substitute a prebuilt artifact when the source
	// build fails. Only musl carries the flag: its asm assumes a
	// double-precision FPU and does not assemble for single-float targets.
	Recoverable bool

	// KeyOutput is the file whose presence proves the install happened. The
	// fallback path refuses to report success without it.
	KeyOutput func(tc Toolchain) string
}

// srcDir is the extracted source tree for this recipe.
func (r Recipe) srcDir() string {
	name := r.SourceName
	if name == "" {
		name = r.Name
	}
	return filepath.Join(SourcesDir, name+"-"+r.Version)
}

// gnuURL builds the canonical ftp.gnu.org URL; the mirror rewrite happens at
// download time, not here.
func gnuURL(project, file string) string {
	return fmt.Sprintf("%s/%s/%s", gnuOriginalURL, project, file)
}

// DefaultRecipes returns the full pipeline in dependency order:
// binutils -> {gmp, mpfr, mpc, isl} -> gcc-stage1 -> musl -> gcc-stage2 -> gdb.
// The library group has no internal ordering requirement beyond gmp first
// (mpfr/mpc/isl link against it); table order is the build order.
func DefaultRecipes() []Recipe {
	return []Recipe{
		{
			Name:    "binutils",
			Version: binutilsVersion,
			Source:  gnuURL("binutils", "binutils-"+binutilsVersion+".tar.xz"),
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--target=" + tc.Triple,
					"--prefix=" + tc.Prefix,
					"--with-sysroot=" + tc.Sysroot,
					"--with-arch=" + tc.ISA,
					"--with-abi=" + tc.ABI,
					"--disable-nls",
					"--disable-werror",
					"--disable-multilib",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "bin", tc.CrossPrefix()+"ld")
			},
		},
		{
			Name:      "gmp",
			Version:   gmpVersion,
			Source:    gnuURL("gmp", "gmp-"+gmpVersion+".tar.xz"),
			DependsOn: []string{"binutils"},
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--prefix=" + tc.Prefix,
					"--disable-shared",
					"--enable-static",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "lib", "libgmp.a")
			},
		},
		{
			Name:      "mpfr",
			Version:   mpfrVersion,
			Source:    gnuURL("mpfr", "mpfr-"+mpfrVersion+".tar.xz"),
			DependsOn: []string{"gmp"},
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--prefix=" + tc.Prefix,
					"--with-gmp=" + tc.Prefix,
					"--disable-shared",
					"--enable-static",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "lib", "libmpfr.a")
			},
		},
		{
			Name:      "mpc",
			Version:   mpcVersion,
			Source:    gnuURL("mpc", "mpc-"+mpcVersion+".tar.gz"),
			DependsOn: []string{"gmp", "mpfr"},
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--prefix=" + tc.Prefix,
					"--with-gmp=" + tc.Prefix,
					"--with-mpfr=" + tc.Prefix,
					"--disable-shared",
					"--enable-static",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "lib", "libmpc.a")
			},
		},
		{
			Name:      "isl",
			Version:   islVersion,
			Source:    "https://libisl.sourceforge.io/isl-" + islVersion + ".tar.xz",
			DependsOn: []string{"gmp"},
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--prefix=" + tc.Prefix,
					"--with-gmp-prefix=" + tc.Prefix,
					"--disable-shared",
					"--enable-static",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "lib", "libisl.a")
			},
		},
		{
			// Reduced, C-only compiler: enough to build musl, nothing more.
			// No threads, no shared objects, no headers: this is the half of
			// the bootstrap cycle that can exist before a libc does.
			Name:       "gcc-stage1",
			Version:    gccVersion,
			SourceName: "gcc",
			Source:     gnuURL("gcc/gcc-"+gccVersion, "gcc-"+gccVersion+".tar.xz"),
			DependsOn:  []string{"binutils", "gmp", "mpfr", "mpc", "isl"},
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--target=" + tc.Triple,
					"--prefix=" + tc.Prefix,
					"--with-sysroot=" + tc.Sysroot,
					"--with-arch=" + tc.ISA,
					"--with-abi=" + tc.ABI,
					"--with-gmp=" + tc.Prefix,
					"--with-mpfr=" + tc.Prefix,
					"--with-mpc=" + tc.Prefix,
					"--with-isl=" + tc.Prefix,
					"--enable-languages=c",
					"--without-headers",
					"--with-newlib",
					"--disable-shared",
					"--disable-threads",
					"--disable-libssp",
					"--disable-libatomic",
					"--disable-libquadmath",
					"--disable-libgomp",
					"--disable-nls",
					"--disable-multilib",
				}
			},
			BuildTargets:   []string{"all-gcc", "all-target-libgcc"},
			InstallTargets: []string{"install-gcc", "install-target-libgcc"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "bin", tc.CrossPrefix()+"gcc")
			},
		},
		{
			Name:      "musl",
			Version:   muslVersion,
			Source:    "https://musl.libc.org/releases/musl-" + muslVersion + ".tar.gz",
			DependsOn: []string{"gcc-stage1"},
			InTree:    true,
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--prefix=/usr",
					"--target=" + tc.Triple,
					"--disable-gcc-wrapper",
				}
			},
			MakeVars: func(tc Toolchain) []string {
				return []string{
					"CROSS_COMPILE=" + tc.CrossPrefix(),
					"DESTDIR=" + tc.Sysroot,
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			Recoverable:    true,
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Sysroot, "usr", "lib", "libc.a")
			},
		},
		{
			// Full compiler, reconfigured from scratch now that libc headers
			// and libraries exist in the sysroot. Everything stage 1 disabled
			// comes back on.
			Name:         "gcc-stage2",
			Version:      gccVersion,
			SourceName:   "gcc",
			Source:       gnuURL("gcc/gcc-"+gccVersion, "gcc-"+gccVersion+".tar.xz"),
			DependsOn:    []string{"musl"},
			FreshWorkDir: true,
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--target=" + tc.Triple,
					"--prefix=" + tc.Prefix,
					"--with-sysroot=" + tc.Sysroot,
					"--with-arch=" + tc.ISA,
					"--with-abi=" + tc.ABI,
					"--with-gmp=" + tc.Prefix,
					"--with-mpfr=" + tc.Prefix,
					"--with-mpc=" + tc.Prefix,
					"--with-isl=" + tc.Prefix,
					"--enable-languages=c,c++",
					"--enable-shared",
					"--enable-threads=posix",
					"--disable-libsanitizer",
					"--disable-nls",
					"--disable-multilib",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "bin", tc.CrossPrefix()+"g++")
			},
		},
		{
			Name:      "gdb",
			Version:   gdbVersion,
			Source:    gnuURL("gdb", "gdb-"+gdbVersion+".tar.xz"),
			DependsOn: []string{"gcc-stage2"},
			ConfigureArgs: func(tc Toolchain) []string {
				return []string{
					"--target=" + tc.Triple,
					"--prefix=" + tc.Prefix,
					"--with-gmp=" + tc.Prefix,
					"--with-mpfr=" + tc.Prefix,
					"--disable-nls",
					"--disable-werror",
				}
			},
			BuildTargets:   []string{"all"},
			InstallTargets: []string{"install"},
			KeyOutput: func(tc Toolchain) string {
				return filepath.Join(tc.Prefix, "bin", tc.CrossPrefix()+"gdb")
			},
		},
	}
}

// selectRecipes filters the table down to the named components, preserving
// table order. Unknown names are an error.
func selectRecipes(all []Recipe, names []string) ([]Recipe, error) {
	if len(names) == 0 {
		return all, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []Recipe
	for _, r := range all {
		if wanted[r.Name] {
			out = append(out, r)
			delete(wanted, r.Name)
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("unknown component %q", n)
	}
	return out, nil
}
