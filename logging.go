package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// SetupLogging sends the standard logger to stderr and to
// <logDir>/<command>.log. The returned function closes the log file.
func SetupLogging(command, logDir string) (func() error, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("logging: failed to create %s: %w", logDir, err)
	}

	logPath := filepath.Join(logDir, command+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: failed to open %s: %w", logPath, err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	log.Printf("Log file: %s", logPath)
	return func() error {
		log.SetOutput(os.Stderr)
		return logFile.Close()
	}, nil
}
