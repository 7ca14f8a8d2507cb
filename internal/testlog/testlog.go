// Package testlog installs the test logging profile.
package testlog

import (
	"testing"

	"sila-rpc/logging"
)

// Start configures test logging once per process and tags the output with the test name.
func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	logging.Component("test").Debug().Str("test", t.Name()).Msg("start")
}
