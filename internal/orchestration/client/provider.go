package client

import (
	"context"
	"fmt"
	"iter"
	"slices"
)

// Request is what a Provider receives for one call. Model, BaseURL and
// APIKey are already resolved; an empty Model or BaseURL means the
// provider's default.
type Request struct {
	Messages    []ModelMessage
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// Provider translates requests for a single backend.
type Provider interface {
	// Type returns the provider identifier.
	Type() ProviderType

	// Complete issues one non-streaming completion.
	Complete(ctx context.Context, req Request) (*ModelResponse, error)

	// Stream issues one streaming completion. The sequence ends with a
	// {Done: true} chunk on success or a single error. Breaking out of the
	// loop early must release the underlying connection.
	Stream(ctx context.Context, req Request) iter.Seq2[StreamChunk, error]
}

// ErrUnknownProvider is returned when an unregistered provider type is requested.
var ErrUnknownProvider = fmt.Errorf("unknown provider")

// providerRegistry holds registered provider factories.
// Use RegisterProvider to add new provider types.
var providerRegistry = make(map[ProviderType]func() Provider)

// RegisterProvider registers a provider factory for the given type.
// This should be called in init() functions of provider packages.
func RegisterProvider(providerType ProviderType, factory func() Provider) {
	providerRegistry[providerType] = factory
}

// NewProvider creates a Provider for the given type.
// Returns ErrUnknownProvider if the type is not registered.
func NewProvider(providerType ProviderType) (Provider, error) {
	factory, ok := providerRegistry[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerType)
	}
	return factory(), nil
}

// RegisteredProviders returns all registered provider types, sorted.
func RegisteredProviders() []ProviderType {
	types := make([]ProviderType, 0, len(providerRegistry))
	for t := range providerRegistry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// IsRegistered returns true if the given provider type has been registered.
func IsRegistered(providerType ProviderType) bool {
	_, ok := providerRegistry[providerType]
	return ok
}
