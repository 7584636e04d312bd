package testlog

import (
	"testing"

	"github.com/danmuck/hostlink/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures the test logger and tags the test boundary in output.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}
