package localai

import (
	"github.com/randalmurphal/chatkit/provider"
)

func init() {
	provider.Register("local", newFromProviderConfig)
}

// newFromProviderConfig creates a local Client from a provider.Config.
// This is the factory function registered with the provider registry.
func newFromProviderConfig(cfg provider.Config) (provider.Client, error) {
	return NewClient(cfg), nil
}
