package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/windlass-cd/windlass/common"
)

const (
	JsonFormat = "json"
	TextFormat = "text"
)

// NewWithCurrentConfig create logrus logger by using current configuration
func NewWithCurrentConfig() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(CreateFormatter(os.Getenv(common.EnvLogFormat)))
	l.SetLevel(createLogLevel())
	return l
}

// ConfigureDefault applies the current environment configuration to the
// logrus standard logger, which most packages log through.
func ConfigureDefault() {
	logrus.SetFormatter(CreateFormatter(os.Getenv(common.EnvLogFormat)))
	logrus.SetLevel(createLogLevel())
}

// CreateFormatter create logrus formatter by string
func CreateFormatter(logFormat string) logrus.Formatter {
	var formatType logrus.Formatter
	switch strings.ToLower(logFormat) {
	case JsonFormat:
		formatType = &logrus.JSONFormatter{}
	case TextFormat:
		formatType = &logrus.TextFormatter{
			FullTimestamp: true,
		}
	default:
		formatType = &logrus.TextFormatter{}
	}
	return formatType
}

func createLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(os.Getenv(common.EnvLogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	return level
}
