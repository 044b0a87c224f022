package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var logFile *os.File

/*
Init configures the global charmbracelet logger. An empty path keeps the
default stderr output, any other path appends to that file instead.
*/
func Init(level, logFilePath string) error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}

	log.SetLevel(lvl)
	log.SetReportTimestamp(true)

	if logFilePath == "" {
		return nil
	}

	Close()

	logFile, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	log.SetOutput(logFile)
	log.SetReportCaller(true)
	log.Debug("logging initialized", "file", logFilePath, "level", lvl.String())

	return nil
}

// Close closes the log file and restores stderr output.
func Close() {
	if logFile == nil {
		return
	}

	log.Debug("closing log file")
	log.SetOutput(os.Stderr)
	log.SetReportCaller(false)
	logFile.Close()
	logFile = nil
}
