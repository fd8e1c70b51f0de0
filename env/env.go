package env

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const DefaultEnvFile = ".env"

// InitConfig loads DefaultEnvFile, when present, and fills every config
// from the environment. Variables already set in the environment win.
func InitConfig(configs ...any) error {
	// nolint:errcheck // .env file is optional
	_ = godotenv.Load(DefaultEnvFile)

	for _, config := range configs {
		if err := envconfig.Process("", config); err != nil {
			return errors.Wrapf(err, "failed to envconfig.Process %T", config)
		}
	}

	return nil
}
