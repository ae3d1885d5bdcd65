package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetOutput(os.Stdout)
	Log.SetLevel(levelFromEnv(os.Getenv("LOG_LEVEL")))

	// Use JSON formatter for structured logs
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// levelFromEnv maps LOG_LEVEL onto a logrus level, defaulting to Info
func levelFromEnv(value string) logrus.Level {
	switch value {
	case "debug", "info", "warn", "error":
		level, err := logrus.ParseLevel(value)
		if err == nil {
			return level
		}
	}
	return logrus.InfoLevel
}

// ForMessage returns an entry pre-populated with the ids every generation log line carries
func ForMessage(messageID, threadID string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"message_id": messageID,
		"thread_id":  threadID,
	})
}
