// Package store defines the audit storage interface and implementations.
package store

import "context"

// Session is one mock-server session, keyed by the API key the agent
// presented.
type Session struct {
	SessionKey string
	Scenario   string
	Provider   string
	CreatedAt  int64
}

// Turn is one served request/response exchange.
type Turn struct {
	TurnID     string
	SessionKey string
	Provider   string
	StepIndex  int
	Request    string
	Response   string
	Ts         int64
}

// ValidationFailure records one tool-validation drift event.
type ValidationFailure struct {
	FailureID    string
	SessionKey   string
	Profile      string
	AgentVersion string
	ToolName     string
	Decision     string
	CapturePath  string
	Ts           int64
}

// Store defines the interface for audit persistence.
type Store interface {
	// Session operations
	GetOrCreateSession(ctx context.Context, sessionKey, scenario, provider string) (*Session, error)
	GetSession(ctx context.Context, sessionKey string) (*Session, error)

	// Turn operations
	RecordTurn(ctx context.Context, turn *Turn) error
	GetTurns(ctx context.Context, sessionKey string, limit int) ([]Turn, error)
	CountTurns(ctx context.Context, sessionKey string) (int, error)

	// Validation failure operations
	RecordValidationFailure(ctx context.Context, failure *ValidationFailure) error
	GetValidationFailures(ctx context.Context, sessionKey string, limit int) ([]ValidationFailure, error)

	// Lifecycle
	Close() error
}
