package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"petalsmon/internal/validate"
)

// Bounds on max_new_tokens accepted by the test client.
const (
	MinNewTokens = 5
	MaxNewTokens = 16384
)

// AutoBlocks asks the server to pick the number of blocks itself.
const AutoBlocks = -1

// Config holds the node settings persisted between runs. Values are copied
// around; nothing mutates a Config in place except an explicit save.
type Config struct {
	NodeName           string    `json:"node_name" yaml:"node_name" toml:"node_name"`
	Device             DeviceRef `json:"device" yaml:"device" toml:"device"`
	ModelID            int       `json:"model_id" yaml:"model_id" toml:"model_id"`
	Token              string    `json:"token" yaml:"token" toml:"token"`
	NumBlocks          Blocks    `json:"num_blocks" yaml:"num_blocks" toml:"num_blocks"`
	GenerationTemplate string    `json:"generation_template" yaml:"generation_template" toml:"generation_template"`
	SystemPrompt       string    `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	MaxNewTokens       int       `json:"max_new_tokens" yaml:"max_new_tokens" toml:"max_new_tokens"`
	TorchDType         string    `json:"torch_dtype" yaml:"torch_dtype" toml:"torch_dtype"`

	// Extra keeps keys this version does not know about so a save does not
	// drop settings written by a newer release.
	Extra map[string]any `json:"-" yaml:",inline" toml:"-"`
}

// Keys lists every persisted key of the current schema.
var Keys = []string{
	"node_name",
	"device",
	"model_id",
	"token",
	"num_blocks",
	"generation_template",
	"system_prompt",
	"max_new_tokens",
	"torch_dtype",
}

// Defaults returns the record written on first start.
func Defaults() Config {
	return Config{
		NodeName:           "Unnamed",
		Device:             DeviceCPU,
		ModelID:            0,
		Token:              "",
		NumBlocks:          4,
		GenerationTemplate: "{system_prompt}### User: {message}\n\n### Assistant:\n",
		SystemPrompt:       "Act as an AI assistant that is always ready to provide useful information and assistance. Help the user achieve their task.",
		MaxNewTokens:       1024,
		TorchDType:         "auto",
	}
}

// Validate checks the fields a user can get wrong in the form.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeName) == "" {
		return validate.Errorf("node_name", "is required")
	}
	if c.MaxNewTokens < MinNewTokens || c.MaxNewTokens > MaxNewTokens {
		return validate.Errorf("max_new_tokens", fmt.Sprintf("must be within %d..%d", MinNewTokens, MaxNewTokens))
	}
	if c.NumBlocks == 0 || c.NumBlocks < AutoBlocks {
		return validate.Errorf("num_blocks", "must be positive or -1 for auto")
	}
	if c.ModelID < 0 {
		return validate.Errorf("model_id", "must not be negative")
	}
	return nil
}

// DeviceCPU is the device reference for CPU-only serving.
const DeviceCPU DeviceRef = "cpu"

// DeviceRef identifies the device the node serves on: "cpu", a GPU UUID
// ("GPU-..."), or a positional "cuda:N".
type DeviceRef string

// legacyDevice maps the combo-box index older releases persisted. Index 0 was
// "cpu", index N was the (N-1)th GPU in enumeration order.
func legacyDevice(idx int) DeviceRef {
	if idx <= 0 {
		return DeviceCPU
	}
	return DeviceRef("cuda:" + strconv.Itoa(idx-1))
}

func (d *DeviceRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("device: expected scalar, got kind %d", node.Kind)
	}
	if node.Tag == "!!int" {
		n, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("device: %w", err)
		}
		*d = legacyDevice(n)
		return nil
	}
	*d = DeviceRef(strings.TrimSpace(node.Value))
	return nil
}

func (d *DeviceRef) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*d = legacyDevice(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	*d = DeviceRef(strings.TrimSpace(s))
	return nil
}

// Blocks is the number of transformer blocks to serve. Older releases stored
// it as the raw text of the form field, so quoted numbers are accepted.
type Blocks int

func (b *Blocks) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("num_blocks: expected scalar, got kind %d", node.Kind)
	}
	return b.parse(node.Value)
}

func (b *Blocks) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	return b.parse(s)
}

func (b *Blocks) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*b = AutoBlocks
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("num_blocks: %q is not a number", s)
	}
	*b = Blocks(n)
	return nil
}
