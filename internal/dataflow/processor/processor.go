// Package processor defines the contract every node in a processing graph
// implements: a fixed sequence of lifecycle hooks driven by the engine that
// hosts it (see internal/dataflow/engine), plus the port and shared-state
// declarations a processor exposes so the graph can wire connections
// before any of them runs.
package processor

import (
	"github.com/go-arcade/arcade/internal/dataflow/datatype"
	"github.com/go-arcade/arcade/internal/dataflow/port"
	"github.com/go-arcade/arcade/internal/dataflow/runctx"
	"github.com/go-arcade/arcade/internal/dataflow/state"
	"github.com/go-arcade/arcade/pkg/ctx"
	"gopkg.in/yaml.v3"
)

// IProcessor is implemented by every concrete processing node (readers,
// filters, decoders, sinks, and the reference examplemod processors).
// The engine calls these hooks in exactly this order for the lifetime of
// one build→prepare→run→stop cycle:
//
//	Configure → CreatePorts → CompleteStreamInfo → Prepare →
//	  [ Preprocess → Process (loop) → Postprocess ]  (once per run) →
//	Unprepare
//
// Process is called repeatedly until the run's runctx.Context reports
// Terminated(); the engine does not call Process again after that, even if
// it returned without error.
type IProcessor interface {
	// Configure applies this processor's YAML node and the process-wide
	// context. It must not touch ports or shared state yet — those are not
	// guaranteed to exist on any peer processor until CreatePorts has run
	// on the whole graph.
	Configure(node *yaml.Node, global *ctx.Context) error

	// CreatePorts declares this processor's named input/output ports
	// (including any slot-range expansion already resolved by the graph
	// loader). Called once per processor, in no particular order across
	// processors.
	CreatePorts() ([]PortSpec, error)

	// CompleteStreamInfo fills in the StreamInfo for this processor's
	// output ports (for a producer) or negotiates against an already-
	// resolved upstream StreamInfo (for a consumer). The graph guarantees
	// this runs on every producer before it runs on any of that
	// producer's direct consumers.
	CompleteStreamInfo(ports *Ports) error

	// Prepare runs once, after the whole graph's CompleteStreamInfo pass
	// has finished and before the first run starts. Heavy one-time setup
	// (opening files, allocating large buffers) belongs here, not in
	// Configure.
	Prepare(global *ctx.Context) error

	// Preprocess runs once at the start of each run, after Prepare.
	Preprocess(run *runctx.Context) error

	// Process runs repeatedly for the duration of a run. Implementations
	// should check run.Terminated() at a cadence appropriate to their own
	// retrieve timeouts rather than busy-polling it.
	Process(run *runctx.Context) error

	// Postprocess runs once at the end of each run, after the last
	// Process call returns.
	Postprocess(run *runctx.Context) error

	// Unprepare runs once, after the processor will never run again
	// (graph is being destroyed). Releases what Prepare acquired.
	Unprepare(global *ctx.Context) error
}

// StatefulProcessor is implemented by a processor that exposes shared
// state for peers or the control plane to read/write. It is optional:
// processors with no shared state simply don't implement it.
type StatefulProcessor interface {
	SharedStates() map[string]state.AnyHandle
}

// MethodProcessor is implemented by a processor that exposes callable
// methods to the control plane (spec §4.4): named, YAML-in/YAML-out
// functions invoked via Graph.Apply while the graph may already be
// running. Methods execute on the caller's thread, not the processor's
// own engine thread — implementations must synchronize against their
// Process loop via shared-state atomics or their own locking.
type MethodProcessor interface {
	Methods() map[string]func(*yaml.Node) (*yaml.Node, error)
}

// PortSpec is what CreatePorts returns for one port: its name, direction,
// slot bounds, and the buffer/wait/caching policy.
type PortSpec struct {
	Name   string
	Output bool
	// NumSlots fixes the port at a single slot count with no growth; it
	// is ignored when either MinSlots or MaxSlots is set.
	NumSlots int
	// MinSlots/MaxSlots bound the port's slot count for on-demand growth
	// during connection reservation (spec §4.3). Leaving both zero falls
	// back to NumSlots slots, fixed.
	MinSlots   int
	MaxSlots   int
	BufferSize int64
	// WaitStrategy names the output port's wait strategy: one of
	// "blocking" (default), "sleeping", "yielding", "busy-spin" (spec
	// §6). Ignored for input ports.
	WaitStrategy string
	// CacheEnabled only applies to input ports; see port.InputSlot.
	CacheEnabled bool
	// ItemFactory constructs one pooled payload instance per ring-buffer
	// cell; required for output ports (see port.NewOutputSlot), ignored
	// for input ports.
	ItemFactory func() datatype.Item
}

// Ports is the resolved set of named ports CreatePorts declared, handed
// back to CompleteStreamInfo.
type Ports struct {
	Outputs map[string]*port.OutputPort
	Inputs  map[string]*port.InputPort
}

// Output returns slot index of the named output port.
func (p *Ports) Output(name string, index int) *port.OutputSlot {
	op := p.Outputs[name]
	if op == nil {
		return nil
	}
	return op.Slot(index)
}

// Input returns slot index of the named input port.
func (p *Ports) Input(name string, index int) *port.InputSlot {
	ip := p.Inputs[name]
	if ip == nil {
		return nil
	}
	return ip.Slot(index)
}
