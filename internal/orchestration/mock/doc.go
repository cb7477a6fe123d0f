// Package mock provides the deterministic offline model provider.
//
// Provider answers every prompt without network access. Prompts rendered by
// the default workers get role-appropriate JSON, so a full orchestrator run
// completes against it:
//
//	mockProvider := mock.New()
//
//	// Override the canned answers
//	mockProvider.RespondFunc = func(req client.Request) (string, error) {
//	    return `{"score": 95, "passed": true}`, nil
//	}
//
// # Registration
//
// The provider is registered with the client package when this package is
// imported:
//
//	import _ "github.com/zjrosen/devteam/internal/orchestration/mock"
//
//	c, err := client.New(client.ModelConfig{Provider: client.ProviderMock})
package mock
