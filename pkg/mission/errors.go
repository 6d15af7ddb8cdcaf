package mission

import "errors"

// Named conflict errors the HTTP layer maps to status codes.
var (
	ErrNotFound         = errors.New("mission: not found")
	ErrNotRunning       = errors.New("mission: not running")
	ErrNotQuarantined   = errors.New("mission: not quarantined")
	ErrNotRetry         = errors.New("mission: not in retry state")
	ErrLeaseMismatch    = errors.New("mission: lease mismatch")
	ErrNoneAvailable    = errors.New("mission: no claimable mission available")
	ErrAgentNameMissing = errors.New("mission: agentName is required")
)
