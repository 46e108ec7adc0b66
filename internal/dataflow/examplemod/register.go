package examplemod

import "github.com/go-arcade/arcade/internal/dataflow/graph"

// Factories returns the graph.Factory registrations for both reference
// processors, keyed by the `type:` string a graph YAML document uses.
func Factories() map[string]graph.Factory {
	return map[string]graph.Factory{
		"examplemod.source": NewSourceProcessor,
		"examplemod.sink":   NewSinkProcessor,
	}
}
