package util

import (
	"os"

	"github.com/samber/oops"
)

// CheckFileExists reports whether fpath can be stat'ed.
func CheckFileExists(fpath string) bool {
	_, e := os.Stat(fpath)
	return e == nil
}

// EnsureDir creates path and its parents with perm if missing and fails if
// path exists but is not a directory.
func EnsureDir(path string, perm os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return oops.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return oops.Wrapf(err, "checking %s", path)
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return oops.Wrapf(err, "creating %s", path)
	}
	log.WithField("path", path).Debug("created directory")
	return nil
}
