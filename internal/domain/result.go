package domain

// RunResult is the response contract shared by every triggerable operation.
// Success is false only when the whole operation failed; zero work is a success.
type RunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stats   any    `json:"stats"`
}

// OperationInfo describes one triggerable operation for status introspection.
type OperationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServiceStatus is the payload of the status operation.
type ServiceStatus struct {
	Service     string                   `json:"service"`
	Version     string                   `json:"version"`
	Operations  []OperationInfo          `json:"operations"`
	Obligations map[ObligationStatus]int `json:"obligations,omitempty"`
}
