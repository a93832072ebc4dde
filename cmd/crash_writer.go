package cmd

import (
	"fmt"
	"os"

	"github.com/kardianos/osext"
)

// CrashWriter appends fatal-panic output to a file named after the running
// fusebox binary's own path, so a dump from one mount can be told apart
// from a dump left behind by a different fusebox binary on the same host.
type CrashWriter struct {
	fileName string
}

// NewCrashWriter names the dump file <executable path>.crash.log. Falls
// back to "fusebox.crash.log" in the working directory if the running
// binary's own path can't be resolved.
func NewCrashWriter() *CrashWriter {
	exe, err := osext.Executable()
	if err != nil {
		exe = "fusebox"
	}
	return &CrashWriter{fileName: fmt.Sprintf("%s.crash.log", exe)}
}

func (w *CrashWriter) Write(p []byte) (n int, err error) {
	f, err := os.OpenFile(w.fileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	n, err = f.Write(p)

	return
}
