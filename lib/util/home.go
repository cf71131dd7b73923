package util

import (
	"os"
)

// UserHome returns the current user's home directory, trying os.UserHomeDir,
// then $HOME and %USERPROFILE%, then the working directory. Key material
// stored below it is protected by the 0700 directories callers create.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if home := os.Getenv(env); home != "" {
			log.WithError(err).WithField("env", env).Warn("os.UserHomeDir failed, using environment")
			return home
		}
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("no home directory; using working directory")
		return wd
	}
	panic("darkstar: unable to determine home directory; set $HOME")
}
