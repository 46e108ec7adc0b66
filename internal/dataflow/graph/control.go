package graph

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/go-arcade/arcade/internal/dataflow/state"
)

// ErrUnknownState is returned by Retrieve/Update when key does not name a
// registered "processor.state" pair.
var ErrUnknownState = fmt.Errorf("graph: unknown shared state")

// ErrUnknownMethod is returned by Apply when key does not name a
// registered "processor.method" pair.
var ErrUnknownMethod = fmt.Errorf("graph: unknown method")

// Retrieve reads the named shared state on behalf of an external
// control-plane client (state.AudienceExternal) and renders it back as a
// *yaml.Node, the shape a TCP control server (out of scope here) would
// serialize to its caller.
func (g *Graph) Retrieve(key string) (*yaml.Node, error) {
	h, ok := g.states[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, key)
	}
	v, err := h.GetAny(state.AudienceExternal)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return &node, nil
}

// Update writes value to the named shared state on behalf of an external
// client, decoding value into whatever concrete type the state holds.
func (g *Graph) Update(key string, value *yaml.Node) error {
	h, ok := g.states[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, key)
	}
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	return h.SetAny(state.AudienceExternal, v)
}

// Apply invokes one or more exposed methods on behalf of an external
// client — the control plane's Apply document (spec §4.4/§6): each key
// names "processor.method", its value is the method's YAML argument, and
// the result map holds the same keys replaced by each method's YAML
// return. Every key is resolved against the method registry before any
// method runs, so an unknown key fails before anything is invoked.
func (g *Graph) Apply(calls map[string]*yaml.Node) (map[string]*yaml.Node, error) {
	for key := range calls {
		if _, ok := g.methods[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, key)
		}
	}
	results := make(map[string]*yaml.Node, len(calls))
	for key, arg := range calls {
		result, err := g.methods[key](arg)
		if err != nil {
			return nil, fmt.Errorf("graph: apply %q: %w", key, err)
		}
		results[key] = result
	}
	return results, nil
}
