package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/dessim/sim/flowline"
)

// Scenario is the YAML file given to `dessim run --config`. The flow line
// fields sit at the top level next to the run settings.
type Scenario struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`

	flowline.Config `yaml:",inline"`
}

// defaultScenario is used when no --config is given.
func defaultScenario() Scenario {
	return Scenario{Name: "default", Seed: 42, Config: flowline.DefaultConfig()}
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so that typos do not silently fall back to defaults.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	sc := Scenario{Seed: 42}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}
