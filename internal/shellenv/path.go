package shellenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var standardDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
}

// StandardPaths returns the fixed Unix binary search path used when
// building curated terminal environments. Empty on Windows.
func StandardPaths() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return strings.Join(standardDirs, string(os.PathListSeparator))
}

// VersionManagerBinDirs returns per-version bin directories installed
// by a Node version manager, rooted at $NVM_DIR (default ~/.nvm).
// Only directories that exist on disk are returned. Empty on Windows.
func VersionManagerBinDirs() []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	root := os.Getenv("NVM_DIR")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		root = filepath.Join(home, ".nvm")
	}
	matches, err := filepath.Glob(filepath.Join(root, "versions", "node", "*", "bin"))
	if err != nil {
		return nil
	}
	var dirs []string
	for _, dir := range matches {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// SearchPath joins version-manager bin directories ahead of the
// standard list.
func SearchPath() string {
	std := StandardPaths()
	extra := VersionManagerBinDirs()
	if len(extra) == 0 {
		return std
	}
	sep := string(os.PathListSeparator)
	joined := strings.Join(extra, sep)
	if std == "" {
		return joined
	}
	return joined + sep + std
}
