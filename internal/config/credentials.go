package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	EnvAPIKey = "GENAI_KEY"
	EnvAPIURL = "GENAI_API"
)

// Credentials for the remote LLM, held in memory for the process lifetime.
type Credentials struct {
	APIKey string
	APIURL string
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APIURL != ""
}

// LoadCredentials loads envFile into the environment (when it exists) and reads
// the LLM credentials. Missing values only produce a warning.
func LoadCredentials(envFile string) Credentials {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", envFile).Msg("Could not read env file")
		}
	}

	creds := Credentials{
		APIKey: os.Getenv(EnvAPIKey),
		APIURL: os.Getenv(EnvAPIURL),
	}
	if !creds.Complete() {
		log.Warn().
			Bool("api_key_set", creds.APIKey != "").
			Bool("api_url_set", creds.APIURL != "").
			Msg("Either api_key or api_url is missing. Please make sure your credentials are correct.")
	}
	return creds
}
