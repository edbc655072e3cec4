// Package log provides the per-subsystem prefixed loggers used throughout
// quince, thin wrappers around gopkg.in/op/go-logging.v1.
package log

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

var backendInitialized bool

func ensureBackend(level logging.Level) {
	if backendInitialized {
		return
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	formatted := logging.NewBackendFormatter(backend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
	backendInitialized = true
}

// SetLevel sets the global minimum level for all loggers created by New.
// It must be called before the first call to New to take effect. Nothing
// in quince calls it; config.Config.Logging.Level is not applied here.
func SetLevel(level string) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}
	ensureBackend(lvl)
}

// New returns a logger prefixed with module, following a per-component
// logger convention: one named logger per owning subsystem ("engine",
// "security", "reliability", ...).
func New(module string) *logging.Logger {
	ensureBackend(logging.INFO)
	return logging.MustGetLogger(module)
}
