// Package graphfile loads task graph definitions from YAML files into
// orchestrator nodes.
package graphfile

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flumehq/flume/pkg/models"
)

// File is the on-disk shape of a task graph.
type File struct {
	// Name labels the graph in logs and state records.
	Name string `yaml:"name"`
	// Mode optionally overrides the configured execution mode.
	Mode string `yaml:"mode,omitempty"`
	// Nodes lists the graph's tasks.
	Nodes []NodeSpec `yaml:"nodes"`
}

// NodeSpec is one task entry in a graph file.
type NodeSpec struct {
	// ID is the node's unique name within the graph.
	ID string `yaml:"id"`
	// Payload is the work description handed to the provider.
	Payload string `yaml:"payload"`
	// DependsOn lists upstream node IDs.
	DependsOn []string `yaml:"depends_on,omitempty"`
	// Optional lets the node run with failed or skipped dependencies.
	Optional bool `yaml:"optional,omitempty"`
	// MinTier is the lowest provider tier acceptable for this node.
	MinTier string `yaml:"min_tier,omitempty"`
	// Timeout bounds the node's whole fallback chain.
	Timeout Duration `yaml:"timeout,omitempty"`
	// Context carries extra key/value pairs to the provider.
	Context map[string]string `yaml:"context,omitempty"`
}

// Duration decodes YAML duration strings ("30s", "5m") into a
// time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("timeout must be a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and validates a graph file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}
	return Parse(data)
}

// Parse decodes graph YAML. Unknown fields are rejected so typos in
// hand-written files fail loudly.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing graph file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("graph file has no nodes")
	}
	for _, n := range f.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if n.Payload == "" {
			return fmt.Errorf("node %s has no payload", n.ID)
		}
		if n.MinTier != "" && !models.Tier(n.MinTier).Valid() {
			return fmt.Errorf("node %s: unknown tier %q", n.ID, n.MinTier)
		}
		if n.Timeout < 0 {
			return fmt.Errorf("node %s: negative timeout", n.ID)
		}
	}
	return nil
}

// BuildNodes converts the file entries into orchestrator nodes.
// Per-node timeouts become absolute deadlines relative to now.
func (f *File) BuildNodes(now time.Time) []*models.Node {
	nodes := make([]*models.Node, 0, len(f.Nodes))
	for _, spec := range f.Nodes {
		req := &models.ExecutionRequest{
			Payload: spec.Payload,
			MinTier: models.Tier(spec.MinTier),
		}
		if len(spec.Context) > 0 {
			req.Context = make(map[string]string, len(spec.Context))
			for k, v := range spec.Context {
				req.Context[k] = v
			}
		}
		if spec.Timeout > 0 {
			deadline := now.Add(time.Duration(spec.Timeout))
			req.Deadline = &deadline
		}
		nodes = append(nodes, &models.Node{
			ID:        spec.ID,
			DependsOn: spec.DependsOn,
			Optional:  spec.Optional,
			Request:   req,
		})
	}
	return nodes
}
