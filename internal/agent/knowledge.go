// ABOUTME: TOML destination knowledge base for the builtin planner
// ABOUTME: Loads destination guides from an embedded default or a configured file

package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed knowledge.toml
var defaultKnowledgeTOML []byte

// Knowledge is the planner's destination guide collection.
type Knowledge struct {
	Destinations []Destination `toml:"destination"`
}

// Destination is one scripted travel guide.
type Destination struct {
	Name    string   `toml:"name"`
	Country string   `toml:"country"`
	Aliases []string `toml:"aliases"`
	Summary string   `toml:"summary"`
	Tips    []string `toml:"tips"`
	Days    []Day    `toml:"day"`
}

// Day is one itinerary day within a destination guide.
type Day struct {
	Title  string `toml:"title" json:"title"`
	Detail string `toml:"detail" json:"detail"`
}

// LoadKnowledge reads a TOML knowledge base from path. An empty path loads
// the embedded default knowledge.
func LoadKnowledge(path string) (*Knowledge, error) {
	data := defaultKnowledgeTOML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading knowledge file: %w", err)
		}
	}

	var k Knowledge
	if err := toml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parsing knowledge TOML: %w", err)
	}

	if len(k.Destinations) == 0 {
		return nil, fmt.Errorf("knowledge base has no destinations")
	}
	for i, d := range k.Destinations {
		if d.Name == "" {
			return nil, fmt.Errorf("destination %d has no name", i)
		}
		if len(d.Days) == 0 {
			return nil, fmt.Errorf("destination %q has no days", d.Name)
		}
	}

	return &k, nil
}

// Match finds the destination mentioned in the given text, matching names
// and aliases case-insensitively. Returns nil when nothing matches.
func (k *Knowledge) Match(text string) *Destination {
	lower := strings.ToLower(text)
	for i := range k.Destinations {
		d := &k.Destinations[i]
		if strings.Contains(lower, strings.ToLower(d.Name)) {
			return d
		}
		for _, alias := range d.Aliases {
			if strings.Contains(lower, strings.ToLower(alias)) {
				return d
			}
		}
	}
	return nil
}
