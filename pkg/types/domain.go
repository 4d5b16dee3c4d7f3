package types

// Model is an entry of the model catalog.
type Model struct {
	// Hugging Face repository id served by the swarm.
	// example: petals-team/StableBeluga2
	Name string `json:"name" yaml:"name"`
	// Whether the repository is gated and needs an access token.
	// example: false
	TokenRequired bool `json:"token_required" yaml:"token_required"`
	// Legacy spelling of TokenRequired used by older catalogs.
	LegacyToken bool `json:"-" yaml:"token,omitempty"`
}

// RequiresToken reports whether either spelling of the flag is set.
func (m Model) RequiresToken() bool { return m.TokenRequired || m.LegacyToken }

// Device is a GPU as reported by nvidia-smi.
type Device struct {
	// Position in the current enumeration order.
	// example: 0
	Index int `json:"index"`
	// Stable identity across reboots and driver reorderings.
	// example: GPU-5c1fbdb4-7a0c-7d5b-6c2e-6f7b0c1f9a11
	UUID string `json:"uuid"`
	// example: NVIDIA GeForce RTX 3090
	Name string `json:"name"`
}
