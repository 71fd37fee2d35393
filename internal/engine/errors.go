package engine

import (
	"errors"
)

var (
	// ErrTenantNotFound indicates an unknown tenant. The turn is aborted
	// before any mutation.
	ErrTenantNotFound = errors.New("engine: tenant not found")

	// ErrConversationNotFound indicates an unknown conversation. The turn is
	// aborted before any mutation.
	ErrConversationNotFound = errors.New("engine: conversation not found")

	// ErrTenantDisabled indicates the tenant account is inactive or suspended.
	ErrTenantDisabled = errors.New("engine: tenant disabled")

	// ErrGenerationFailed indicates the completion call failed after the
	// provider's own retries and fallbacks. The turn is fatal: the inbound
	// message and counters stay persisted, no reply is produced.
	ErrGenerationFailed = errors.New("engine: response generation failed")
)
