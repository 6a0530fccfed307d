package topology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the topology document at path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a YAML topology, checks it against the structural schema
// and the consistency rules, and builds the routing table. All problems are
// reported together in a *ValidationError.
func Parse(data []byte) (*Topology, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if doc == nil {
		return nil, &ValidationError{Problems: []Problem{{Code: CodeSchema, Message: "topology document is empty"}}}
	}
	if problems := checkSchema(doc); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	var t Topology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if err := Validate(&t); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}
