package tsubame

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSourceTree plants a configure script that generates a trivial Makefile,
// standing in for an autotools package.
func fakeSourceTree(t *testing.T, srcDir, configureBody string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "configure"), []byte(configureBody), 0o755))
}

const okConfigure = `#!/bin/sh
echo "configured with: $@" > config.log
printf 'all:\n\ttouch built-marker\n\ninstall:\n\ttouch installed-marker\n' > Makefile
`

func requireBuildTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"sh", "make"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
}

func stageTestRecipe() Recipe {
	return Recipe{
		Name:    "demo",
		Version: "1.0",
		ConfigureArgs: func(tc Toolchain) []string {
			return []string{"--prefix=" + tc.Prefix, "--target=" + tc.Triple}
		},
		BuildTargets:   []string{"all"},
		InstallTargets: []string{"install"},
	}
}

func newTestStageRunner(t *testing.T) (*stageRunner, string) {
	t.Helper()
	ex := &Executor{Context: context.Background()}
	logDir := t.TempDir()
	return NewStageRunner(ex, ex, t.TempDir(), logDir), logDir
}

func TestStageRunnerRunsAllSteps(t *testing.T) {
	requireBuildTools(t)
	saved := SourcesDir
	defer func() { SourcesDir = saved }()
	SourcesDir = t.TempDir()

	r := stageTestRecipe()
	fakeSourceTree(t, r.srcDir(), okConfigure)

	s, logDir := newTestStageRunner(t)
	s.Quiet = true
	require.Nil(t, s.Run(r, testToolchain()))

	workDir := filepath.Join(s.WorkRoot, "demo")
	assert.FileExists(t, filepath.Join(workDir, "built-marker"))
	assert.FileExists(t, filepath.Join(workDir, "installed-marker"))

	// Configure ran out-of-tree with the recipe's arguments.
	data, err := os.ReadFile(filepath.Join(workDir, "config.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "--target=riscv64-linux-musl")
	assert.NoFileExists(t, filepath.Join(r.srcDir(), "config.log"))

	// One log per step, each with the target header.
	for _, step := range []Step{StepConfigure, StepBuild, StepInstall} {
		logData, err := os.ReadFile(filepath.Join(logDir, "demo-"+string(step)+".log"))
		require.NoError(t, err)
		assert.Contains(t, string(logData), "arch=rv64imafc")
	}
}

func TestStageRunnerReportsFailingStep(t *testing.T) {
	requireBuildTools(t)
	saved := SourcesDir
	defer func() { SourcesDir = saved }()
	SourcesDir = t.TempDir()

	r := stageTestRecipe()
	fakeSourceTree(t, r.srcDir(), "#!/bin/sh\necho doomed >&2\nexit 1\n")

	s, _ := newTestStageRunner(t)
	s.Quiet = true
	serr := s.Run(r, testToolchain())
	require.NotNil(t, serr)
	assert.Equal(t, "demo", serr.Component)
	assert.Equal(t, StepConfigure, serr.Step)
	assert.FileExists(t, serr.LogPath)

	data, err := os.ReadFile(serr.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "doomed")
}

func TestStageRunnerFreshWorkDir(t *testing.T) {
	requireBuildTools(t)
	saved := SourcesDir
	defer func() { SourcesDir = saved }()
	SourcesDir = t.TempDir()

	r := stageTestRecipe()
	r.FreshWorkDir = true
	fakeSourceTree(t, r.srcDir(), okConfigure)

	s, _ := newTestStageRunner(t)
	s.Quiet = true

	// Plant stale state where the work dir will be; a fresh recipe must not
	// see it.
	workDir := filepath.Join(s.WorkRoot, "demo")
	require.NoError(t, os.MkdirAll(workDir, 0o755))
	stale := filepath.Join(workDir, "config.cache")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	require.Nil(t, s.Run(r, testToolchain()))
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(workDir, "built-marker"))
}

func TestStageRunnerInTree(t *testing.T) {
	requireBuildTools(t)
	saved := SourcesDir
	defer func() { SourcesDir = saved }()
	SourcesDir = t.TempDir()

	r := stageTestRecipe()
	r.InTree = true
	fakeSourceTree(t, r.srcDir(), okConfigure)

	s, _ := newTestStageRunner(t)
	s.Quiet = true
	require.Nil(t, s.Run(r, testToolchain()))

	// Everything happened inside the source tree.
	assert.FileExists(t, filepath.Join(r.srcDir(), "built-marker"))
	assert.NoDirExists(t, filepath.Join(s.WorkRoot, "demo"))
}
