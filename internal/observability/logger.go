package observability

import (
	"github.com/danmuck/lightmesh/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logger and tags it with the node role and
// identity.
func InitLogger(app, role, identity string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Str("role", role).Str("identity", identity).Logger()
	log.Logger = logger
	return logger
}
