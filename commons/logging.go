// Package commons holds the plumbing shared by the api and bot services:
// logging, error reporting, the Redis pool and Prometheus collectors.
package commons

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the standard logrus logger. Unknown levels fall back
// to info; format is either "text" or "json".
func SetupLogging(level string, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stdout)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
