package errors

import "fmt"

/*
SwarmError is a coded error. Copies made with WithMessagef keep the code,
so errors.Is matches a formatted copy against the package-level value.
*/
type SwarmError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *SwarmError) Error() string {
	return fmt.Sprintf("swarm error %d: %s", e.Code, e.Message)
}

func (e *SwarmError) Is(target error) bool {
	other, ok := target.(*SwarmError)
	return ok && other.Code == e.Code
}

// Simulation errors use -1000 .. -1099, bots -1100 .. -1199,
// checkpoints and gates -1200 .. -1299.
var (
	ErrInvalidConfig  = &SwarmError{Code: -1000, Message: "Invalid configuration"}
	ErrNotSpawned     = &SwarmError{Code: -1001, Message: "Swarm not spawned"}
	ErrUnknownPattern = &SwarmError{Code: -1002, Message: "Unknown pattern"}
	ErrUnknownLayout  = &SwarmError{Code: -1003, Message: "Unknown agent layout"}
	ErrOutOfBounds    = &SwarmError{Code: -1004, Message: "Position outside grid"}

	ErrBotStopped      = &SwarmError{Code: -1100, Message: "Bot is not running"}
	ErrHealthCheck     = &SwarmError{Code: -1101, Message: "Bot health check failed"}
	ErrUnknownProvider = &SwarmError{Code: -1102, Message: "Unknown chat provider"}
	ErrEmptyResponse   = &SwarmError{Code: -1103, Message: "Empty chat response"}
	ErrNoBots          = &SwarmError{Code: -1104, Message: "Fleet has no bots"}

	ErrCheckpointNotFound = &SwarmError{Code: -1200, Message: "Checkpoint not found"}
	ErrIntegrity          = &SwarmError{Code: -1201, Message: "Checkpoint integrity check failed"}
	ErrUnknownGate        = &SwarmError{Code: -1202, Message: "Unknown validation gate"}
)

// WithMessagef creates a *copy* of a SwarmError with a formatted message.
// It does not modify the original error variable.
func (e *SwarmError) WithMessagef(format string, args ...any) *SwarmError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData returns a copy carrying extra context for JSON consumers.
func (e *SwarmError) WithData(data any) *SwarmError {
	newErr := *e
	newErr.Data = data
	return &newErr
}
