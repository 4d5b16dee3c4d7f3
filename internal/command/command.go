// Package command builds the argument vector of the Petals server. Nothing
// here touches a shell: the result is handed to exec as-is.
package command

import (
	"strconv"
	"strings"

	"petalsmon/internal/config"
	"petalsmon/internal/validate"
	"petalsmon/pkg/types"
)

// ServerModule is the python module started for a node.
const ServerModule = "petals.cli.run_server"

// DefaultPython is used when Input.Python is empty.
const DefaultPython = "python3"

// Input carries already-resolved form values.
type Input struct {
	Python    string
	Model     types.Model
	NodeName  string
	Device    string
	Token     string
	NumBlocks int
	Precision string
}

// Build returns the argv for the server, argv[0] being the interpreter.
// An empty node name, a missing model or a required-but-empty token yield a
// validation error and no argv.
func Build(in Input) ([]string, error) {
	node := strings.TrimSpace(in.NodeName)
	if node == "" {
		return nil, validate.Errorf("node_name", "is required")
	}
	model := strings.TrimSpace(in.Model.Name)
	if model == "" {
		return nil, validate.Errorf("model", "is required")
	}
	device := strings.TrimSpace(in.Device)
	if device == "" {
		device = string(config.DeviceCPU)
	}
	python := strings.TrimSpace(in.Python)
	if python == "" {
		python = DefaultPython
	}
	argv := []string{
		python,
		"-m", ServerModule,
		model,
		"--public_name", node,
		"--device", device,
	}
	if in.Model.RequiresToken() {
		token := strings.TrimSpace(in.Token)
		if token == "" {
			return nil, validate.Errorf("token", "is required by "+model)
		}
		argv = append(argv, "--token", token)
	}
	if in.NumBlocks != config.AutoBlocks {
		argv = append(argv, "--num_blocks", strconv.Itoa(in.NumBlocks))
	}
	if p := strings.TrimSpace(in.Precision); p != "" && p != "auto" {
		argv = append(argv, "--torch_dtype", p)
	}
	return argv, nil
}

// FromConfig assembles an Input from a saved config and the resolved model
// and device.
func FromConfig(python string, cfg config.Config, model types.Model, device string) Input {
	return Input{
		Python:    python,
		Model:     model,
		NodeName:  cfg.NodeName,
		Device:    device,
		Token:     cfg.Token,
		NumBlocks: int(cfg.NumBlocks),
		Precision: cfg.TorchDType,
	}
}
