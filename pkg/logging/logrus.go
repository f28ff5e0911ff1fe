// Пакет logging настраивает logrus для бинарников сервиса
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New создаёт логгер с уровнем level (debug, info, warn, error) и форматом format (text или json)
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stdout, level, format)
}

// NewWithOutput то же, что New, но пишет в out
func NewWithOutput(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	switch format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return log, nil
}
