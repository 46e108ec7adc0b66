// Package config parses the YAML graph-definition document (spec §6) into
// the structures Graph.Build consumes: processor declarations (with
// name-pattern expansion like "filter(1-4,7)"), connection rules (with
// slot-range expansion), and shared-state groups. Loading mirrors the
// teacher's viper-based pkg/conf.LoadConfigFile, adapted from TOML to the
// YAML format this domain's graph documents use.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProcessorSpec is one `processors:` entry after name-pattern expansion.
type ProcessorSpec struct {
	Name     string
	Type     string
	Params   *yaml.Node
	Advanced Advanced
}

// Advanced is spec §6's `advanced:` block: per-processor scheduling hints
// and per-port buffer-size overrides, applied on top of whatever the
// processor's own CreatePorts declares.
type Advanced struct {
	// ThreadPriority is -1 (inherit, the default) or 0..100, mapped
	// linearly onto the OS's SCHED_FIFO priority range.
	ThreadPriority int
	// ThreadCore is -1 (unpinned, the default) or a single CPU core index.
	ThreadCore int
	// BufferSizes overrides a named port's ring-buffer capacity.
	BufferSizes map[string]int64
	// WaitStrategies overrides a named output port's wait_strategy
	// ("blocking", "sleeping", "yielding", "busy-spin"), on top of
	// whatever the processor's own CreatePorts declares.
	WaitStrategies map[string]string
}

// ConnectionSpec is one `connections:` entry after slot-range expansion:
// a single producer slot wired to a single consumer slot.
type ConnectionSpec struct {
	FromProcessor string
	FromPort      string
	FromSlot      int
	ToProcessor   string
	ToPort        string
	ToSlot        int
}

// StateGroupSpec is one `states:` entry linking named shared states across
// processors so they share a master cell (spec §5).
type StateGroupSpec struct {
	Name    string
	Members []StateRef
}

// StateRef names one processor's shared-state handle within a StateGroupSpec.
type StateRef struct {
	Processor string
	State     string
}

// Graph is the fully expanded, ready-to-build document.
type Graph struct {
	Processors  []ProcessorSpec
	Connections []ConnectionSpec
	States      []StateGroupSpec
}

type rawDocument struct {
	Processors []rawProcessor `yaml:"processors"`
	Connections []rawConnection `yaml:"connections"`
	States      []rawStateGroup `yaml:"states"`
}

type rawProcessor struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Params   yaml.Node     `yaml:"params"`
	Advanced rawAdvanced   `yaml:"advanced"`
}

type rawAdvanced struct {
	ThreadPriority *int              `yaml:"threadpriority"`
	ThreadCore     *int              `yaml:"threadcore"`
	BufferSizes    map[string]int64  `yaml:"buffer_sizes"`
	WaitStrategies map[string]string `yaml:"wait_strategies"`
}

type rawConnection struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type rawStateGroup struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// LoadGraphFile reads and expands the graph document named "graph.yaml"
// (or graph.yml) from confDir, the way pkg/conf.LoadConfigFile reads its
// own config — via a scoped *viper.Viper rather than the global instance,
// since a graph document is loaded once at startup, not hot-reloaded.
func LoadGraphFile(confDir string) (*Graph, error) {
	v := viper.New()
	v.AddConfigPath(confDir)
	v.SetConfigName("graph")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read graph file: %w", err)
	}

	// viper's mapstructure-based Unmarshal can't target a raw *yaml.Node
	// (processor params are intentionally untyped), so once viper has
	// located the file we decode its bytes with yaml.v3 directly.
	data, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("config: failed to read graph file: %w", err)
	}
	return ParseGraphDocument(data)
}

// ParseGraphDocument expands an already-read YAML document, for callers
// (tests, the control plane) that have the bytes in hand rather than a
// file on disk.
func ParseGraphDocument(data []byte) (*Graph, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal graph document: %w", err)
	}
	return expand(raw)
}

func expand(raw rawDocument) (*Graph, error) {
	g := &Graph{}

	for _, rp := range raw.Processors {
		names, err := expandNamePattern(rp.Name)
		if err != nil {
			return nil, fmt.Errorf("config: processor %q: %w", rp.Name, err)
		}
		advanced := Advanced{
			ThreadPriority: -1, ThreadCore: -1,
			BufferSizes:    rp.Advanced.BufferSizes,
			WaitStrategies: rp.Advanced.WaitStrategies,
		}
		if rp.Advanced.ThreadPriority != nil {
			advanced.ThreadPriority = *rp.Advanced.ThreadPriority
		}
		if rp.Advanced.ThreadCore != nil {
			advanced.ThreadCore = *rp.Advanced.ThreadCore
		}
		for _, name := range names {
			params := rp.Params
			g.Processors = append(g.Processors, ProcessorSpec{
				Name:     name,
				Type:     rp.Type,
				Params:   &params,
				Advanced: advanced,
			})
		}
	}

	for _, rc := range raw.Connections {
		conns, err := expandConnection(rc.From, rc.To)
		if err != nil {
			return nil, fmt.Errorf("config: connection %q -> %q: %w", rc.From, rc.To, err)
		}
		g.Connections = append(g.Connections, conns...)
	}

	for _, rs := range raw.States {
		group := StateGroupSpec{Name: rs.Name}
		for _, m := range rs.Members {
			ref, err := parseStateRef(m)
			if err != nil {
				return nil, fmt.Errorf("config: state group %q: %w", rs.Name, err)
			}
			group.Members = append(group.Members, ref)
		}
		g.States = append(g.States, group)
	}

	return g, nil
}

var namePatternRe = regexp.MustCompile(`^([^(]+)\(([0-9,\-]+)\)$`)

// expandNamePattern turns "filter(1-4,7)" into filter1..filter4, filter7.
// A name with no parenthesized range expands to itself unchanged.
func expandNamePattern(pattern string) ([]string, error) {
	m := namePatternRe.FindStringSubmatch(pattern)
	if m == nil {
		return []string{pattern}, nil
	}
	base, rangeExpr := m[1], m[2]

	indices, err := expandRangeExpr(rangeExpr)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(indices))
	for _, i := range indices {
		names = append(names, fmt.Sprintf("%s%d", base, i))
	}
	return names, nil
}

// expandRangeExpr parses a comma-separated list of integers and ranges
// ("1-4,7" -> [1,2,3,4,7]).
func expandRangeExpr(expr string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if bounds := strings.SplitN(part, "-", 2); len(bounds) == 2 {
			lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid range start %q", bounds[0])
			}
			hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid range end %q", bounds[1])
			}
			if hi < lo {
				return nil, fmt.Errorf("invalid range %q: end before start", part)
			}
			for i := lo; i <= hi; i++ {
				out = append(out, i)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

// slotRefRe matches "processor.port" or "processor.port[slotExpr]", where
// slotExpr is either a single index or a range like "1-4". The bracket is
// optional: omitting it (or leaving it empty) names no explicit slot, per
// spec §6's "each component optional" connection syntax.
var slotRefRe = regexp.MustCompile(`^([^.]+)\.([^\[]+)(?:\[([0-9\-]*)\])?$`)

// autoSlot is the sentinel slot index meaning "no explicit slot named":
// reserve_slot resolves it per spec §4.3's negative-index rule (first
// unconnected, or output fan-out).
const autoSlot = -1

func parseSlotRef(ref string) (processorName, portName string, slots []int, err error) {
	m := slotRefRe.FindStringSubmatch(ref)
	if m == nil {
		return "", "", nil, fmt.Errorf("malformed slot reference %q, want processor.port[index]", ref)
	}
	processorName, portName = m[1], m[2]
	if m[3] == "" {
		slots = []int{autoSlot}
		return
	}
	slots, err = expandRangeExpr(m[3])
	return
}

// expandConnection resolves "from -> to" where either side may name a
// range of slots. A ranged side must match the other side's slot count
// exactly (one-to-one wiring); a single slot on one side fans out to every
// slot on a ranged other side.
func expandConnection(from, to string) ([]ConnectionSpec, error) {
	fromProc, fromPort, fromSlots, err := parseSlotRef(from)
	if err != nil {
		return nil, err
	}
	toProc, toPort, toSlots, err := parseSlotRef(to)
	if err != nil {
		return nil, err
	}

	switch {
	case len(fromSlots) == 1 && len(toSlots) > 1:
		fromSlots = repeat(fromSlots[0], len(toSlots))
	case len(toSlots) == 1 && len(fromSlots) > 1:
		toSlots = repeat(toSlots[0], len(fromSlots))
	case len(fromSlots) != len(toSlots):
		return nil, fmt.Errorf("slot count mismatch: %d vs %d", len(fromSlots), len(toSlots))
	}

	conns := make([]ConnectionSpec, 0, len(fromSlots))
	for i := range fromSlots {
		conns = append(conns, ConnectionSpec{
			FromProcessor: fromProc, FromPort: fromPort, FromSlot: fromSlots[i],
			ToProcessor: toProc, ToPort: toPort, ToSlot: toSlots[i],
		})
	}
	return conns, nil
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func parseStateRef(ref string) (StateRef, error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 {
		return StateRef{}, fmt.Errorf("malformed state reference %q, want processor.state", ref)
	}
	return StateRef{Processor: parts[0], State: parts[1]}, nil
}
