package core

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger intended to be used by all of the server components.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	var err error
	logLvl := logrus.InfoLevel
	if cfg.Logging.LogLevel != "" {
		logLvl, err = logrus.ParseLevel(cfg.Logging.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logLvl)
	logger.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}

	if cfg.Logging.LogFilePath != "" {
		logFile, err := os.OpenFile(cfg.Logging.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.Logging.LogFilePath, err)
		}
		logger.SetOutput(logFile)
	}

	return logger, nil
}
