package uploadconf

import (
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/samber/lo"
)

// TokenEnvKey is where the API token is read from on every request.
const TokenEnvKey = "UPLOAD_API_TOKEN"

// Credentials supplies the headers attached to every API request. The token
// is re-read from the environment each time so a refreshed token is picked
// up without restarting.
type Credentials struct {
	envRepo  env.Repository
	tokenKey string
	extra    map[string]string
}

// NewCredentials creates a provider that sends the token found under tokenKey
// as a bearer token, next to the extra headers.
func NewCredentials(envRepo env.Repository, tokenKey string, extra map[string]string) Credentials {
	if tokenKey == "" {
		tokenKey = TokenEnvKey
	}
	return Credentials{
		envRepo:  envRepo,
		tokenKey: tokenKey,
		extra:    extra,
	}
}

// Headers ...
func (c Credentials) Headers() map[string]string {
	headers := lo.Assign(map[string]string{}, c.extra)
	if token := c.envRepo.Get(c.tokenKey); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}
