package embedding

import "fmt"

// ProviderError wraps a failed embedding call. The retry policy is owned by
// the caller; failures are never silently swallowed.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
