// Package client provides the multi-provider model client.
//
// A ModelClient is configured with a primary provider and tries the remaining
// providers in DefaultFailoverOrder when the primary fails. Each provider
// adapter lives in its own package under providers/ and registers itself from
// init(), so importing an adapter makes it available:
//
//	import (
//	    _ "github.com/zjrosen/devteam/internal/orchestration/client/providers/openai"
//	    _ "github.com/zjrosen/devteam/internal/orchestration/client/providers/anthropic"
//	)
//
//	mc, err := client.New(client.ModelConfig{Provider: client.ProviderOpenAI})
//	if err != nil {
//	    return err
//	}
//	resp, err := mc.Complete(ctx, []client.ModelMessage{
//	    {Role: client.RoleUser, Content: "Summarize the requirements"},
//	}, client.CompleteOptions{})
//
// Credentials come from ModelConfig.APIKey for the primary provider and from
// <PROVIDER>_API_KEY environment variables otherwise (OLLAMA_HOST for ollama).
// The mock provider never takes part in failover.
package client
