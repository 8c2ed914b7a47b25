package tsubame

import (
	"sync"
	"sync/atomic"

	"github.com/gookit/color"
)

// isCriticalAtomic is 1 while an install is mutating the prefix and 0 otherwise.
// The signal handler refuses to cancel on the first Ctrl+C while it is set.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	CacheDir   string
	SourcesDir string
	CacheStore string
	BinDir     string
	StateDir   string
	LogRoot    string
	WorkRoot   string

	Debug   bool
	Verbose bool

	ConfigFile = "/etc/tsubame.conf"

	gnuMirrorURL         string
	gnuOriginalURL       = "https://ftp.gnu.org/gnu"
	gnuMirrorMessageOnce sync.Once
	BinaryMirror         string

	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// Global executors (assigned in Main)
	UserExec *Executor
	RootExec *Executor
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
