package tsubame

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Step is one phase of a stage: configure, build or install.
type Step string

const (
	StepConfigure Step = "configure"
	StepBuild     Step = "build"
	StepInstall   Step = "install"
)

// StageError reports which component failed at which step and where the
// captured output lives. It is a value the orchestrator inspects, not a
// reason to kill the process: whether this is fatal depends on the recipe's
// Recoverable flag, and only the orchestrator knows that.
type StageError struct {
	Component string
	Version   string
	Step      Step
	LogPath   string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s failed at %s (log: %s): %v", e.Component, e.Version, e.Step, e.LogPath, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageRunner executes one component's configure/build/install sequence.
type StageRunner interface {
	Run(r Recipe, tc Toolchain) *StageError
}

// stageRunner drives autotools recipes through the Executor, capturing each
// step's output into its own log file.
type stageRunner struct {
	Exec        *Executor // configure/build
	InstallExec *Executor // install; root when the prefix demands it
	WorkRoot    string
	LogDir      string // per-invocation timestamped directory
	Quiet       bool
}

func NewStageRunner(execCtx, installExec *Executor, workRoot, logDir string) *stageRunner {
	return &stageRunner{
		Exec:        execCtx,
		InstallExec: installExec,
		WorkRoot:    workRoot,
		LogDir:      logDir,
	}
}

// prepareWorkDir returns the directory the steps run in. In-tree recipes
// (musl) configure inside their source tree. Out-of-tree recipes get a build
// directory that is recreated when the recipe demands a fresh one: GCC stage 2
// must never see stage 1's configure cache.
func (s *stageRunner) prepareWorkDir(r Recipe) (string, error) {
	if r.InTree {
		return r.srcDir(), nil
	}
	workDir := filepath.Join(s.WorkRoot, r.Name)
	if r.FreshWorkDir {
		if err := os.RemoveAll(workDir); err != nil {
			return "", fmt.Errorf("failed to clean work dir %s: %w", workDir, err)
		}
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir %s: %w", workDir, err)
	}
	return workDir, nil
}

func (s *stageRunner) runStep(r Recipe, tc Toolchain, step Step, cmd *exec.Cmd, runAs *Executor) *StageError {
	logPath := filepath.Join(s.LogDir, fmt.Sprintf("%s-%s.log", r.Name, step))
	logFile, err := os.Create(logPath)
	if err != nil {
		return &StageError{Component: r.Name, Version: r.Version, Step: step, LogPath: logPath,
			Err: fmt.Errorf("failed to create log file: %w", err)}
	}
	defer logFile.Close()

	// Log header records the target parameters this invocation ran with.
	fmt.Fprintf(logFile, "# %s %s %s: target=%s arch=%s abi=%s\n# %s\n",
		r.Name, r.Version, step, tc.Triple, tc.ISA, tc.ABI, time.Now().Format(time.RFC3339))

	var out io.Writer = logFile
	if Verbose {
		out = io.MultiWriter(os.Stdout, logFile)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = tc.Env(nil)

	if !s.Quiet {
		arrowf("%s: %s\n", r.Name, step)
	}
	start := time.Now()
	if err := runAs.Run(cmd); err != nil {
		return &StageError{Component: r.Name, Version: r.Version, Step: step, LogPath: logPath, Err: err}
	}
	debugf("%s %s finished in %s\n", r.Name, step, time.Since(start).Truncate(time.Second))
	return nil
}

func (s *stageRunner) Run(r Recipe, tc Toolchain) *StageError {
	workDir, err := s.prepareWorkDir(r)
	if err != nil {
		return &StageError{Component: r.Name, Version: r.Version, Step: StepConfigure, Err: err}
	}

	// configure
	configurePath := filepath.Join(r.srcDir(), "configure")
	if r.InTree {
		configurePath = "./configure"
	}
	cfgCmd := exec.Command(configurePath, r.ConfigureArgs(tc)...)
	cfgCmd.Dir = workDir
	if serr := s.runStep(r, tc, StepConfigure, cfgCmd, s.Exec); serr != nil {
		return serr
	}

	var makeVars []string
	if r.MakeVars != nil {
		makeVars = r.MakeVars(tc)
	}

	// build
	buildArgs := []string{fmt.Sprintf("-j%d", tc.Jobs)}
	buildArgs = append(buildArgs, r.BuildTargets...)
	buildArgs = append(buildArgs, makeVars...)
	buildCmd := exec.Command("make", buildArgs...)
	buildCmd.Dir = workDir
	if serr := s.runStep(r, tc, StepBuild, buildCmd, s.Exec); serr != nil {
		return serr
	}

	// install
	installArgs := append([]string{}, r.InstallTargets...)
	installArgs = append(installArgs, makeVars...)
	installCmd := exec.Command("make", installArgs...)
	installCmd.Dir = workDir
	return s.runStep(r, tc, StepInstall, installCmd, s.InstallExec)
}
