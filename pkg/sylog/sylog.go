// Package sylog provides the leveled logging facade used throughout podder.
// It keeps a small, global, printf-style API (Debugf, Verbosef, Infof,
// Warningf, Errorf, Fatalf) so call sites never carry a logger value around,
// backed by logrus so level filtering, formatting and output redirection
// are not reinvented.
package sylog

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Level mirrors the verbosity levels recognised by PODDER_MESSAGELEVEL:
// -2 or lower errors only, -1 or 0 warnings and errors, 1 info (default),
// 2 verbose, 3 debug.
type Level int

const (
	FatalLevel   Level = -3
	ErrorLevel   Level = -2
	WarnLevel    Level = -1
	InfoLevel    Level = 1
	VerboseLevel Level = 2
	DebugLevel   Level = 3
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		FullTimestamp:    false,
	})
	log.SetLevel(logrus.InfoLevel)

	if v := os.Getenv("PODDER_MESSAGELEVEL"); v != "" {
		if lvl, err := strconv.Atoi(v); err == nil {
			SetLevel(Level(lvl))
		}
	}
}

// SetLevel adjusts the global verbosity. Verbose and Debug both map onto
// logrus' Debug level, which shows Verbosef and Debugf output alike, since
// logrus does not have a level between Info and Debug.
func SetLevel(l Level) {
	switch {
	case l <= ErrorLevel:
		log.SetLevel(logrus.ErrorLevel)
	case l <= 0:
		log.SetLevel(logrus.WarnLevel)
	case l == InfoLevel:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.DebugLevel)
	}
}

func Debugf(format string, a ...interface{})   { log.Debugf(format, a...) }
func Verbosef(format string, a ...interface{}) { log.Debugf(format, a...) }
func Infof(format string, a ...interface{})    { log.Infof(format, a...) }
func Warningf(format string, a ...interface{}) { log.Warnf(format, a...) }
func Errorf(format string, a ...interface{})   { log.Errorf(format, a...) }

// Fatalf logs at fatal level and terminates the process. Reserved for the
// CLI boundary; library code must always return an error instead.
func Fatalf(format string, a ...interface{}) {
	log.Fatalf(format, a...)
}
