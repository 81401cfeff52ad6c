package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logFile *lumberjack.Logger

// cliHook for logging Info level and above to the CLI.
type cliHook struct{}

func (h *cliHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel}
}

func (h *cliHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = os.Stderr.WriteString(line)
	return err
}

func InitLogFile(logPath string) error {
	if err := os.MkdirAll(logPath, os.ModePerm); err != nil {
		return err
	}

	// Rotating file logger setup
	logFile = &lumberjack.Logger{
		Filename:   filepath.Join(logPath, "current_log.log"),
		MaxSize:    5, // in MB
		MaxBackups: 10,
		MaxAge:     30,   // in days
		Compress:   true, // compress old log files
	}
	return nil
}

func CloseLogFile() error {
	if logFile == nil {
		return nil
	}
	return logFile.Close()
}

func CreateLogger(name string) (*logrus.Entry, error) {
	if logFile == nil {
		return nil, errors.New("log file was not initiated")
	}

	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC1123Z,
	})
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(logFile)

	// Adding CLI hook
	log.AddHook(&cliHook{})
	return log.WithField("from", name), nil
}

func StructFields(data interface{}) logrus.Fields {
	fields := logrus.Fields{}

	val := reflect.ValueOf(data)
	typ := reflect.TypeOf(data)

	if val.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}

	for i := 0; i < val.NumField(); i++ {
		if !typ.Field(i).IsExported() {
			continue
		}

		fields[typ.Field(i).Name] = val.Field(i).Interface()
	}

	return fields
}
