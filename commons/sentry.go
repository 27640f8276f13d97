package commons

import (
	raven "github.com/getsentry/raven-go"
	log "github.com/sirupsen/logrus"
)

var sentryEnabled bool

// SetupSentry points raven at dsn. An empty dsn disables reporting.
func SetupSentry(dsn string, environment string) error {
	if dsn == "" {
		sentryEnabled = false
		return nil
	}
	if err := raven.SetDSN(dsn); err != nil {
		return err
	}
	raven.SetEnvironment(environment)
	sentryEnabled = true
	log.Debug("[Main] Sentry error reporting enabled")
	return nil
}

// ReportError sends err to Sentry when reporting is enabled. It does not block.
func ReportError(err error, tags map[string]string) {
	if !sentryEnabled || err == nil {
		return
	}
	raven.CaptureError(err, tags)
}
