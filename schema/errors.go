package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidUser indicates an invalid user identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidSession indicates an invalid session identifier.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrNoTabs indicates no tabs exist for the session.
	ErrNoTabs = errors.New("no tabs")
	// ErrLastTab indicates a close would leave the session without tabs.
	ErrLastTab = errors.New("cannot close last tab")
	// ErrInvalidAgent indicates an invalid agent identifier.
	ErrInvalidAgent = errors.New("invalid agent")
	// ErrAgentUnavailable indicates no agent binary is installed.
	ErrAgentUnavailable = errors.New("agent not available")
	// ErrEmptyCommand indicates an agent spawn without a command.
	ErrEmptyCommand = errors.New("empty command")
)
