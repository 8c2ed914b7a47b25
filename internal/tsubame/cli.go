package tsubame

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: tsubame <command> [arguments]")
	colSuccess.Println("Run 'tsubame build' to build the full toolchain")
	fmt.Println()
	colInfo.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "[-v] [-prebuilt] [component...]", "Build the cross toolchain (default: all components)"},
		{"fetch, f", "[component...]", "Download and unpack sources without building"},
		{"status, s", "", "Show per-component build state and provenance"},
		{"log", "[component]", "Show captured build logs from the latest run"},
		{"clean", "[-state] [-sources]", "Remove build directories, optionally markers and sources"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		colInfo.Println(c.Desc)
	}
	fmt.Println()
}

// watchSignals installs the two-phase interrupt handler: first Ctrl+C cancels
// the context (unless an install is mid-flight), second one forces exit.
func watchSignals(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					colArrow.Print("\n-> ")
					colError.Printf("Install in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				}

				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling gracefully\n", sig)
				cancel()
				select {
				case <-sigs:
					os.Exit(130)
				case <-time.After(2 * time.Second):
					os.Exit(1)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// newPipeline wires the production pipeline: durable markers, source fetch,
// stage runner with a fresh timestamped log directory, prebuilt fallback.
func newPipeline(cfg *Config, tc Toolchain) (*Pipeline, error) {
	store, err := NewFSStore(StateDir)
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(LogRoot, time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	// Installing into a root-owned prefix goes through sudo; everything else
	// stays unprivileged.
	installExec := UserExec
	if os.Geteuid() != 0 && !dirWritable(filepath.Dir(tc.Prefix)) && !dirWritable(tc.Prefix) {
		installExec = RootExec
	}

	return &Pipeline{
		Store:        store,
		Sources:      NewSourceProvider(),
		Runner:       NewStageRunner(UserExec, installExec, WorkRoot, logDir),
		Fallback:     NewFallbackProvider(cfg, installExec),
		Catalog:      DefaultRecipes(),
		PrebuiltOnly: cfg.Values["TSUBAME_PREBUILT"] == "1",
	}, nil
}

func cmdBuild(cfg *Config, tc Toolchain, args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	verbose := fs.Bool("v", false, "stream build output to the console as well as the log")
	prebuilt := fs.Bool("prebuilt", false, "install prebuilt artifacts for every component")
	fs.Parse(args)

	if *verbose {
		Verbose = true
	}

	recipes, err := selectRecipes(DefaultRecipes(), fs.Args())
	if err != nil {
		colError.Printf("Error: %v\n", err)
		return 1
	}

	p, err := newPipeline(cfg, tc)
	if err != nil {
		colError.Printf("Error: %v\n", err)
		return 1
	}
	if *prebuilt {
		p.PrebuiltOnly = true
	}

	arrowf("Target: %s (prefix %s)\n", tc, tc.Prefix)
	if err := p.RunAll(recipes, tc); err != nil {
		colError.Printf("Error: %v\n", err)
		return 1
	}
	arrowf("Toolchain ready in %s\n", tc.Prefix)
	return 0
}

func cmdFetch(args []string) int {
	recipes, err := selectRecipes(DefaultRecipes(), args)
	if err != nil {
		colError.Printf("Error: %v\n", err)
		return 1
	}
	sp := NewSourceProvider()
	for _, r := range recipes {
		if _, err := sp.EnsureSource(r); err != nil {
			colError.Printf("Error: %v\n", err)
			return 1
		}
	}
	return 0
}

// prebuiltKeys returns the artifact names present in the R2 bucket, nil when
// R2 is not configured or unreachable.
func prebuiltKeys(ctx context.Context, cfg *Config) map[string]bool {
	r2, err := NewR2Client(cfg)
	if err != nil {
		debugf("R2 not configured: %v\n", err)
		return nil
	}
	keys, err := r2.ListKeys(ctx, "")
	if err != nil {
		debugf("Failed to list R2 bucket: %v\n", err)
		return nil
	}
	avail := make(map[string]bool, len(keys))
	for _, k := range keys {
		avail[k] = true
	}
	return avail
}

// statusLabel renders one component's state column: marker state first, and
// for pending components whether the bucket carries a prebuilt substitute.
func statusLabel(built bool, prov Provenance, prebuilt bool) string {
	if built {
		if prov == ProvenanceFallback {
			return colWarn.Sprint("built (fallback)")
		}
		return colSuccess.Sprint("built")
	}
	if prebuilt {
		return color.Gray.Sprint("pending (prebuilt available)")
	}
	return color.Gray.Sprint("pending")
}

func cmdStatus(cfg *Config, tc Toolchain) int {
	store, err := NewFSStore(StateDir)
	if err != nil {
		colError.Printf("Error: %v\n", err)
		return 1
	}
	avail := prebuiltKeys(UserExec.Context, cfg)

	arrowf("Target: %s\n", tc)
	for _, r := range DefaultRecipes() {
		built, err := store.IsBuilt(r.Name, r.Version)
		if err != nil {
			colError.Printf("Error: %v\n", err)
			return 1
		}
		var prov Provenance
		if built {
			prov, _ = store.Provenance(r.Name, r.Version)
		}
		fmt.Printf("  %-12s %-8s %s\n", r.Name, r.Version,
			statusLabel(built, prov, avail[artifactName(r, tc)]))
	}
	return 0
}

func cmdClean(args []string) int {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	state := fs.Bool("state", false, "also remove completion markers (full pipeline reset)")
	sources := fs.Bool("sources", false, "also remove cached and unpacked sources")
	fs.Parse(args)

	arrowf("Removing work directories under %s\n", WorkRoot)
	if err := os.RemoveAll(WorkRoot); err != nil {
		colError.Printf("Error: %v\n", err)
		return 1
	}
	if *state {
		arrowf("Removing completion markers under %s\n", StateDir)
		if err := os.RemoveAll(StateDir); err != nil {
			colError.Printf("Error: %v\n", err)
			return 1
		}
	}
	if *sources {
		arrowf("Removing sources under %s\n", SourcesDir)
		if err := os.RemoveAll(SourcesDir); err != nil {
			colError.Printf("Error: %v\n", err)
			return 1
		}
	}
	return 0
}

// Main is the CLI entrypoint.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSignals(ctx, cancel)

	configPath := ConfigFile
	if alt := os.Getenv("TSUBAME_CONFIG"); alt != "" {
		configPath = alt
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}
	initConfig(cfg)
	tc := newToolchain(cfg)

	UserExec = &Executor{Context: ctx}
	RootExec = &Executor{Context: ctx, ShouldRunAsRoot: true}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	var exitCode int
	switch os.Args[1] {
	case "build", "b":
		exitCode = cmdBuild(cfg, tc, os.Args[2:])
	case "fetch", "f":
		exitCode = cmdFetch(os.Args[2:])
	case "status", "s":
		exitCode = cmdStatus(cfg, tc)
	case "log":
		component := ""
		if len(os.Args) >= 3 {
			component = os.Args[2]
		}
		if err := showLogs(component); err != nil {
			colError.Printf("Error: %v\n", err)
			exitCode = 1
		}
	case "clean":
		exitCode = cmdClean(os.Args[2:])
	case "version", "--version":
		fmt.Printf("tsubame %s (built %s)\n", version, buildDate)
	default:
		colError.Printf("Unknown command: %s\n\n", os.Args[1])
		printHelp()
		exitCode = 1
	}

	cancel()
	os.Exit(exitCode)
}
