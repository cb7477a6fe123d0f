package client

import (
	"os"
	"strings"
)

// CredentialFunc resolves the credential for a provider. For ollama the
// credential is the server host; for every other provider it is an API key.
// An empty string means no credential.
type CredentialFunc func(ProviderType) string

// EnvCredentials reads <PROVIDER>_API_KEY, or OLLAMA_HOST for ollama.
func EnvCredentials(p ProviderType) string {
	return os.Getenv(CredentialEnvVar(p))
}

// CredentialEnvVar returns the environment variable consulted for p.
func CredentialEnvVar(p ProviderType) string {
	if p == ProviderOllama {
		return "OLLAMA_HOST"
	}
	return strings.ToUpper(string(p)) + "_API_KEY"
}
