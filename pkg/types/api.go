package types

import "time"

// ModelsResponse wraps the catalog returned by GET /models.
type ModelsResponse struct {
	// Catalog entries in display order; model_id indexes this list.
	Models []Model `json:"models"`
}

// DevicesResponse wraps GET /devices.
type DevicesResponse struct {
	// Always contains "cpu" first.
	// example: ["cpu","GPU-5c1fbdb4-7a0c-7d5b-6c2e-6f7b0c1f9a11"]
	Choices []string `json:"choices"`
	// GPUs as currently enumerated.
	Devices []Device `json:"devices"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: node_name: is required
	Error string `json:"error"`
	// HTTP status code.
	// example: 400
	Code int `json:"code"`
}

// ExitInfo describes how the last run ended.
type ExitInfo struct {
	// example: 0
	Code int `json:"code"`
	// True when the run ended because it was stopped.
	Requested bool `json:"requested"`
	// True when the process had to be killed after the grace period.
	Killed bool `json:"killed"`
	// Failure description for an unrequested non-zero exit.
	// example: exit status 1
	Error string `json:"error,omitempty"`
	// Run duration in milliseconds.
	// example: 125000
	DurationMS int64 `json:"duration_ms"`
}

// StatusResponse is returned by GET /server/status and the start/stop calls.
type StatusResponse struct {
	// Supervisor state: idle, starting, running or stopping.
	// example: running
	State string `json:"state"`
	// example: 3
	RunID uint64 `json:"run_id,omitempty"`
	// example: 12345
	PID int `json:"pid,omitempty"`
	// Argument vector of the running server.
	Argv []string `json:"argv,omitempty"`
	// Start time of the running server.
	Started *time.Time `json:"started,omitempty"`
	// Model served by the running node.
	// example: petals-team/StableBeluga2
	Model string `json:"model,omitempty"`
	// True while the chat test client accepts prompts.
	ChatEnabled bool `json:"chat_enabled"`
	// True while a prompt is being generated.
	ChatBusy bool `json:"chat_busy"`
	// Outcome of the previous run, if any.
	LastExit *ExitInfo `json:"last_exit,omitempty"`
}

// OutputResponse is the rendered console of the current or last run.
type OutputResponse struct {
	// Committed lines followed by the in-progress line, if any.
	Lines []string `json:"lines"`
	// Lines discarded from the front of the scrollback.
	// example: 0
	Dropped int `json:"dropped"`
	// Incremented on every change.
	// example: 42
	Version uint64 `json:"version"`
}

// GPUUsage is one GPU line of ResourcesResponse.
type GPUUsage struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	Utilization float64 `json:"utilization_percent"`
	MemUsedMiB  int     `json:"memory_used_mib"`
	MemTotalMiB int     `json:"memory_total_mib"`
}

// ResourcesResponse is a host usage sample.
type ResourcesResponse struct {
	Taken time.Time `json:"taken"`
	// Omitted when the probe failed.
	CPUPercent *float64 `json:"cpu_percent,omitempty"`
	// Omitted when the probe failed.
	MemoryPercent *float64   `json:"memory_percent,omitempty"`
	GPU           []GPUUsage `json:"gpu"`
	// Plain nvidia-smi report, when the tool ran.
	GPUText string `json:"gpu_text,omitempty"`
	// Probe failures, keyed by probe name (cpu, memory, gpu).
	Errors map[string]string `json:"errors,omitempty"`
	// Status panel text.
	Text string `json:"text"`
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// example: What is the capital of France?
	Prompt string `json:"prompt"`
}

// GenerateResponse is the cleaned reply of the chat test client.
type GenerateResponse struct {
	// example: Paris.
	Text string `json:"text"`
	// example: 5230
	ElapsedMS int64 `json:"elapsed_ms"`
}
