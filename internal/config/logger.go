package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LoggerConfig is the configuration of the submitter's logger.
type LoggerConfig struct {
	Level string `json:"level"`
	Color bool   `json:"color"`
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level: "info",
		Color: true,
	}
}

// Validate checks that the configured level is one logrus understands.
func (c LoggerConfig) Validate() []error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return []error{err}
	}
	return nil
}

// SetLogrus applies the configuration to the standard logrus logger.
func SetLogrus(c LoggerConfig) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		panic(fmt.Sprintf("invalid log level: %s", c.Level))
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   c.Color,
		DisableColors: !c.Color,
	})
}
