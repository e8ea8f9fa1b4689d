package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

type Entry = logrus.Entry

type Fields = logrus.Fields

// Init настраивает JSON-формат и уровень логирования.
// DEBUG=true включает debug, LOG_LEVEL задаёт уровень явно.
func Init() {
	InitWithOutput(os.Stdout)
}

// InitWithOutput то же, что Init, но пишет в w.
func InitWithOutput(w io.Writer) {
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	Log.SetOutput(w)

	level := logrus.InfoLevel
	if os.Getenv("DEBUG") == "true" {
		level = logrus.DebugLevel
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		level = lvl
	}
	Log.SetLevel(level)
}

// Service возвращает запись с полем service.
func Service(name string) *Entry {
	return Log.WithField("service", name)
}
