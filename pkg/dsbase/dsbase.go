// Package dsbase provides the small amount of ambient configuration the
// storage engine needs: where its on-disk state lives and whether it is
// running in dev mode. It deliberately does not parse flags or config
// files -- that belongs to the CLI layer in cmd/dsvfsd.
package dsbase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const DefaultHomeDirName = "~/.dsvfs"
const HomeVarName = "DSVFS_HOME"
const DevVarName = "DSVFS_DEV"
const UserHomeVarName = "HOME"
const LockFileName = "dsvfs.lock"

var baseLock = &sync.Mutex{}
var ensureDirCache = map[string]bool{}

func IsDevMode() bool {
	return os.Getenv(DevVarName) != ""
}

func GetUserHomeDir() string {
	homeVar := os.Getenv(UserHomeVarName)
	if homeVar == "" {
		return "/"
	}
	return homeVar
}

func ExpandHomeDir(pathStr string) string {
	if pathStr != "~" && !strings.HasPrefix(pathStr, "~/") {
		return pathStr
	}
	homeDir := GetUserHomeDir()
	if pathStr == "~" {
		return homeDir
	}
	return filepath.Join(homeDir, pathStr[2:])
}

// GetHomeDir returns the root directory for the engine's own on-disk state
// (the default SQLite database file, the lock file). Not to be confused
// with the virtual filesystem's own "/" root, which has no on-disk home.
func GetHomeDir() string {
	homeVar := os.Getenv(HomeVarName)
	if homeVar != "" {
		return ExpandHomeDir(homeVar)
	}
	return ExpandHomeDir(DefaultHomeDirName)
}

func EnsureHomeDir() error {
	return CacheEnsureDir(GetHomeDir(), "dsvfshome", 0700, "dsvfs home directory")
}

func CacheEnsureDir(dirName string, cacheKey string, perm os.FileMode, dirDesc string) error {
	baseLock.Lock()
	ok := ensureDirCache[cacheKey]
	baseLock.Unlock()
	if ok {
		return nil
	}
	if err := tryMkdirs(dirName, perm, dirDesc); err != nil {
		return err
	}
	baseLock.Lock()
	ensureDirCache[cacheKey] = true
	baseLock.Unlock()
	return nil
}

func tryMkdirs(dirName string, perm os.FileMode, dirDesc string) error {
	info, err := os.Stat(dirName)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dirName, perm); err != nil {
			return fmt.Errorf("cannot make %s %q: %w", dirDesc, dirName, err)
		}
		info, err = os.Stat(dirName)
	}
	if err != nil {
		return fmt.Errorf("error trying to stat %s: %w", dirDesc, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q must be a directory", dirDesc, dirName)
	}
	return nil
}

func LockFilePath() string {
	return filepath.Join(GetHomeDir(), LockFileName)
}
