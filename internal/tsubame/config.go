package tsubame

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load /etc/tsubame.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge TSUBAME_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge TSUBAME_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TSUBAME_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	CacheDir = cfg.Values["TSUBAME_CACHE_DIR"]
	if CacheDir == "" {
		CacheDir = "/var/cache/tsubame"
	}

	StateDir = cfg.Values["TSUBAME_STATE_DIR"]
	if StateDir == "" {
		StateDir = "/var/db/tsubame/built"
	}

	WorkRoot = cfg.Values["TSUBAME_WORK_DIR"]
	if WorkRoot == "" {
		WorkRoot = filepath.Join(CacheDir, "work")
	}

	Debug = cfg.Values["TSUBAME_DEBUG"] == "1"

	// Load the GNU mirror URL if it's set in the config
	if mirror, exists := cfg.Values["GNU_MIRROR"]; exists && mirror != "" {
		gnuMirrorURL = strings.TrimRight(mirror, "/")
		debugf("=> Using GNU mirror from config: %s\n", gnuMirrorURL)
	}

	// Set a default mirror if none was provided by the user
	if gnuMirrorURL == "" {
		// mirrors.kernel.org is reliable and globally distributed
		gnuMirrorURL = "https://mirrors.kernel.org/gnu"
		debugf("=> No GNU mirror configured, using default: %s\n", gnuMirrorURL)
	}

	if mirror, exists := cfg.Values["TSUBAME_MIRROR"]; exists && mirror != "" {
		BinaryMirror = strings.TrimRight(mirror, "/")
		debugf("=> Using prebuilt mirror: %s\n", BinaryMirror)
	}

	SourcesDir = CacheDir + "/sources"
	CacheStore = SourcesDir + "/_cache"
	BinDir = CacheDir + "/bin"
	LogRoot = CacheDir + "/log"
}
