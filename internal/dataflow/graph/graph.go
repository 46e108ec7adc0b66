// Package graph implements the processing-graph state machine: build (wire
// processors and ports from a parsed config.Graph), prepare (negotiate
// stream info and allocate ring buffers in producer-before-consumer
// order), run (start every processor's engine), and stop/destroy. Build
// ordering and cycle detection are delegated to pkg/dag; the externally
// visible NOGRAPH → ... → PROCESSING → ... state machine is delegated to
// pkg/statemachine.
package graph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/go-arcade/arcade/internal/dataflow/config"
	"github.com/go-arcade/arcade/internal/dataflow/engine"
	"github.com/go-arcade/arcade/internal/dataflow/port"
	"github.com/go-arcade/arcade/internal/dataflow/processor"
	"github.com/go-arcade/arcade/internal/dataflow/runctx"
	"github.com/go-arcade/arcade/internal/dataflow/state"
	"github.com/go-arcade/arcade/pkg/ctx"
	"github.com/go-arcade/arcade/pkg/dag"
	"github.com/go-arcade/arcade/pkg/parallel"
	"github.com/go-arcade/arcade/pkg/ringbuffer"
	"github.com/go-arcade/arcade/pkg/statemachine"
)

// State is a graph's position in its build/run lifecycle.
type State string

const (
	NoGraph     State = "NOGRAPH"
	Constructing State = "CONSTRUCTING"
	Preparing   State = "PREPARING"
	Ready       State = "READY"
	Starting    State = "STARTING"
	Processing  State = "PROCESSING"
	Stopping    State = "STOPPING"
	Error       State = "ERROR"
)

func newStateMachine() *statemachine.StateMachine[State] {
	sm := statemachine.NewWithState(NoGraph)
	sm.AddTransitions(NoGraph, Constructing)
	sm.AddTransitions(Constructing, Preparing, Error)
	sm.AddTransitions(Preparing, Ready, Error)
	sm.AddTransitions(Ready, Starting, NoGraph, Error)
	sm.AddTransitions(Starting, Processing, Error)
	sm.AddTransitions(Processing, Stopping, Error)
	sm.AddTransitions(Stopping, Ready, Error)
	sm.AddTransitions(Error, NoGraph)
	return sm
}

// DefaultBufferSize is used for a connection's ring buffer when its
// producer does not specify one.
const DefaultBufferSize int64 = 1024

// nextPowerOfTwo rounds n up to the next power of two with a floor of 2
// (spec §6's ring-buffer configuration default), so a processor or an
// `advanced.buffer_sizes` override can declare any positive capacity and
// still land on something RingBuffer's index masking accepts.
func nextPowerOfTwo(n int64) int64 {
	if n <= 2 {
		return 2
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// ErrUnknownProcessorType is returned by Build when a config.ProcessorSpec
// names a type not registered in the Factory.
var ErrUnknownProcessorType = fmt.Errorf("graph: unknown processor type")

// Factory constructs a fresh processor.IProcessor instance for a
// config.ProcessorSpec's Type string. Concrete domain processors register
// themselves here (see internal/dataflow/examplemod).
type Factory func() processor.IProcessor

// node is a graph's bookkeeping for one processor: the instance, its
// resolved ports, and the engine that will host it once the graph starts.
type node struct {
	name      string
	proc      processor.IProcessor
	ports     *processor.Ports
	eng       *engine.ProcessorEngine
	prevNames []string
	advanced  config.Advanced
}

func (n *node) NodeName() string         { return n.name }
func (n *node) PrevNodeNames() []string  { return n.prevNames }

// Graph owns a built set of processors, their connections, and the run
// lifecycle driving them.
type Graph struct {
	log    *zap.SugaredLogger
	global *ctx.Context

	sm    *statemachine.StateMachine[State]
	nodes map[string]*node
	dag   *dag.DAG
	order []string // topological build order (producers before consumers)

	states  map[string]state.AnyHandle
	methods map[string]func(*yaml.Node) (*yaml.Node, error)

	run         *runctx.Context
	slotMetrics port.SlotMetrics
}

// New creates an empty graph bound to global, the process-lifetime
// context passed to every processor's Configure/Prepare/Unprepare.
func New(global *ctx.Context) *Graph {
	return &Graph{
		global: global,
		log:    global.Log,
		sm:      newStateMachine(),
		nodes:   make(map[string]*node),
		states:  make(map[string]state.AnyHandle),
		methods: make(map[string]func(*yaml.Node) (*yaml.Node, error)),
	}
}

// State returns the graph's current lifecycle state.
func (g *Graph) State() State { return g.sm.Current() }

// SetSlotMetrics wires a backlog telemetry sink (see
// port.NewPrometheusSlotMetrics) into every input slot created by a
// subsequent Build. Must be called before Build; it has no effect once
// ports already exist.
func (g *Graph) SetSlotMetrics(m port.SlotMetrics) { g.slotMetrics = m }

// Build constructs every processor named in cfg via factories, wires their
// ports according to cfg.Connections, links shared states per
// cfg.States, and runs the producer-before-consumer CompleteStreamInfo
// pass. It transitions NOGRAPH → CONSTRUCTING → PREPARING → READY, or to
// ERROR on any failure.
func (g *Graph) Build(cfg *config.Graph, factories map[string]Factory) error {
	if err := g.sm.TransitionTo(Constructing); err != nil {
		return err
	}

	if err := g.construct(cfg, factories); err != nil {
		g.sm.TransitionTo(Error)
		return err
	}

	if err := g.sm.TransitionTo(Preparing); err != nil {
		g.sm.TransitionTo(Error)
		return err
	}

	if err := g.prepare(); err != nil {
		g.sm.TransitionTo(Error)
		return err
	}

	return g.sm.TransitionTo(Ready)
}

func (g *Graph) construct(cfg *config.Graph, factories map[string]Factory) error {
	for _, ps := range cfg.Processors {
		factory, ok := factories[ps.Type]
		if !ok {
			return fmt.Errorf("%w: %q (processor %q)", ErrUnknownProcessorType, ps.Type, ps.Name)
		}
		proc := factory()
		if err := proc.Configure(ps.Params, g.global); err != nil {
			return fmt.Errorf("graph: configure %q: %w", ps.Name, err)
		}
		g.nodes[ps.Name] = &node{name: ps.Name, proc: proc, advanced: ps.Advanced}

		if mp, ok := proc.(processor.MethodProcessor); ok {
			for method, fn := range mp.Methods() {
				g.methods[ps.Name+"."+method] = fn
			}
		}
	}

	prev := make(map[string]map[string]bool)
	for _, c := range cfg.Connections {
		if prev[c.ToProcessor] == nil {
			prev[c.ToProcessor] = make(map[string]bool)
		}
		prev[c.ToProcessor][c.FromProcessor] = true
	}
	for name, n := range g.nodes {
		for from := range prev[name] {
			n.prevNames = append(n.prevNames, from)
		}
	}

	namedNodes := make([]dag.NamedNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		namedNodes = append(namedNodes, n)
	}
	d, err := dag.New(namedNodes)
	if err != nil {
		return fmt.Errorf("graph: connection graph: %w", err)
	}
	g.dag = d

	order, err := d.GetSchedulableNodeNames()
	if err != nil {
		return err
	}
	g.order = order
	for len(g.order) < len(g.nodes) {
		more, err := d.GetSchedulableNodeNames(g.order...)
		if err != nil {
			return fmt.Errorf("graph: build order: %w", err)
		}
		if len(more) == 0 {
			return fmt.Errorf("graph: connection graph has a cycle or unreachable node")
		}
		g.order = append(g.order, more...)
	}

	for _, name := range g.order {
		n := g.nodes[name]
		specs, err := n.proc.CreatePorts()
		if err != nil {
			return fmt.Errorf("graph: create ports %q: %w", name, err)
		}
		n.ports = &processor.Ports{Outputs: map[string]*port.OutputPort{}, Inputs: map[string]*port.InputPort{}}
		for _, spec := range specs {
			bufSize := spec.BufferSize
			if bufSize <= 0 {
				bufSize = DefaultBufferSize
			}
			if override, ok := n.advanced.BufferSizes[spec.Name]; ok && override > 0 {
				bufSize = override
			}
			bufSize = nextPowerOfTwo(bufSize)
			policy := port.NormalizePolicy(spec.MinSlots, spec.MaxSlots, spec.NumSlots)
			addr := func(i int) port.Address { return port.Address{Processor: name, Port: spec.Name, Index: i} }

			if spec.Output {
				if spec.ItemFactory == nil {
					return fmt.Errorf("graph: output port %s.%s: no ItemFactory", name, spec.Name)
				}
				kind := spec.WaitStrategy
				if override, ok := n.advanced.WaitStrategies[spec.Name]; ok {
					kind = override
				}
				wait, err := port.WaitStrategyFor(kind)
				if err != nil {
					return fmt.Errorf("graph: output port %s.%s: %w", name, spec.Name, err)
				}
				op, err := port.NewOutputPort(policy, bufSize, wait, spec.ItemFactory, addr)
				if err != nil {
					return fmt.Errorf("graph: output port %s.%s: %w", name, spec.Name, err)
				}
				n.ports.Outputs[spec.Name] = op
			} else {
				ip, err := port.NewInputPort(policy, spec.CacheEnabled, g.slotMetrics, addr)
				if err != nil {
					return fmt.Errorf("graph: input port %s.%s: %w", name, spec.Name, err)
				}
				n.ports.Inputs[spec.Name] = ip
			}
		}
	}

	for _, c := range cfg.Connections {
		fromNode, ok := g.nodes[c.FromProcessor]
		if !ok {
			return fmt.Errorf("graph: connection references unknown processor %q", c.FromProcessor)
		}
		toNode, ok := g.nodes[c.ToProcessor]
		if !ok {
			return fmt.Errorf("graph: connection references unknown processor %q", c.ToProcessor)
		}
		outPort, ok := fromNode.ports.Outputs[c.FromPort]
		if !ok {
			return fmt.Errorf("graph: unknown output port %s.%s", c.FromProcessor, c.FromPort)
		}
		inPort, ok := toNode.ports.Inputs[c.ToPort]
		if !ok {
			return fmt.Errorf("graph: unknown input port %s.%s", c.ToProcessor, c.ToPort)
		}

		outIdx, err := outPort.ReserveSlot(c.FromSlot)
		if err != nil {
			return fmt.Errorf("graph: reserve output slot %s.%s: %w", c.FromProcessor, c.FromPort, err)
		}
		inIdx, err := inPort.ReserveSlot(c.ToSlot)
		if err != nil {
			return fmt.Errorf("graph: reserve input slot %s.%s: %w", c.ToProcessor, c.ToPort, err)
		}

		out := outPort.Slot(outIdx)
		in := inPort.Slot(inIdx)
		if err := in.Connect(out); err != nil {
			return fmt.Errorf("graph: connect %s.%s[%d] -> %s.%s[%d]: %w",
				c.FromProcessor, c.FromPort, outIdx, c.ToProcessor, c.ToPort, inIdx, err)
		}
		outPort.MarkConnected(outIdx)
		inPort.MarkConnected(inIdx)
	}

	// State groups register every member in the control-plane registry
	// under processor.state so Update/Retrieve/Apply can address it, then
	// link the group to a single master cell per spec §5: the first
	// member whose Self permission is not Write becomes master, and every
	// other member's compatibility with it (state.Compatible) is checked
	// before sharing its cell.
	for _, group := range cfg.States {
		handles := make([]state.AnyHandle, 0, len(group.Members))
		for _, ref := range group.Members {
			n, ok := g.nodes[ref.Processor]
			if !ok {
				return fmt.Errorf("graph: state group %q references unknown processor %q", group.Name, ref.Processor)
			}
			sp, ok := n.proc.(processor.StatefulProcessor)
			if !ok {
				return fmt.Errorf("graph: processor %q exposes no shared state", ref.Processor)
			}
			h, ok := sp.SharedStates()[ref.State]
			if !ok {
				return fmt.Errorf("graph: processor %q has no shared state %q", ref.Processor, ref.State)
			}
			g.states[ref.Processor+"."+ref.State] = h
			handles = append(handles, h)
		}
		if len(handles) < 2 {
			continue
		}
		if err := linkGroup(group.Name, handles); err != nil {
			return err
		}
	}

	return nil
}

// linkGroup designates the first master-eligible member of handles as the
// group's master cell, verifies every other member is pairwise compatible
// with it, and repoints their cells at the master's.
func linkGroup(groupName string, handles []state.AnyHandle) error {
	masterIdx := -1
	for i, h := range handles {
		if h.IsMasterEligible() {
			masterIdx = i
			break
		}
	}
	if masterIdx < 0 {
		return fmt.Errorf("graph: state group %q has no master-eligible member (every member is Self=Write)", groupName)
	}
	master := handles[masterIdx]
	for i, h := range handles {
		if i == masterIdx {
			continue
		}
		if !state.Compatible(master.Permissions(), h.Permissions()) {
			return fmt.Errorf("graph: state group %q: %q incompatible with master %q", groupName, h.StateName(), master.StateName())
		}
		if err := h.ShareCell(master.CellPtr()); err != nil {
			return fmt.Errorf("graph: state group %q: %w", groupName, err)
		}
	}
	return nil
}

// prepare runs CompleteStreamInfo producer-before-consumer, wires gating
// sequences for every output slot (now that all connections exist), then
// runs Prepare on every processor.
func (g *Graph) prepare() error {
	for _, name := range g.order {
		n := g.nodes[name]
		if err := n.proc.CompleteStreamInfo(n.ports); err != nil {
			return fmt.Errorf("graph: complete stream info %q: %w", name, err)
		}
	}

	gating := make(map[*port.OutputSlot][]*ringbuffer.Sequence)
	for _, n := range g.nodes {
		for _, ip := range n.ports.Inputs {
			for _, in := range ip.Slots() {
				src := in.Source()
				if src == nil {
					continue
				}
				gating[src] = append(gating[src], in.GatingSequence())
			}
		}
	}
	for out, seqs := range gating {
		if err := out.Ring().SetGatingSequences(seqs...); err != nil {
			return fmt.Errorf("graph: seal gating sequences: %w", err)
		}
	}

	for _, name := range g.order {
		n := g.nodes[name]
		if err := n.proc.Prepare(g.global); err != nil {
			return fmt.Errorf("graph: prepare %q: %w", name, err)
		}
	}
	return nil
}

// StartOptions names one run for StartProcessing (spec §4.6): the run
// group it belongs to, its own run id, an optional template id to seed
// storage context from, and whether this is a test run.
type StartOptions struct {
	RunGroupID string
	RunID      string
	TemplateID string
	Test       bool
	// StorageRoot overrides the filesystem root run storage contexts are
	// created under (see runctx.Options.StorageRoot); empty defaults to
	// the process's working directory.
	StorageRoot string
}

// Start transitions READY → STARTING → PROCESSING, launching every
// processor's engine behind a shared startup barrier so no engine
// publishes before every engine's Preprocess has completed.
func (g *Graph) Start(observer engine.Observer) error {
	return g.StartProcessing(StartOptions{}, observer)
}

// StartProcessing is spec §4.6's full StartProcessing: it builds the run's
// storage contexts before launching any engine, so a processor's
// Preprocess can already resolve "context://run/..." paths.
func (g *Graph) StartProcessing(opts StartOptions, observer engine.Observer) error {
	if err := g.sm.TransitionTo(Starting); err != nil {
		return err
	}

	if opts.RunID == "" {
		opts.RunID = time.Now().UTC().Format("20060102T150405.000000000Z")
	}
	if opts.RunGroupID == "" {
		opts.RunGroupID = "default"
	}
	g.run = runctx.New(g.log, opts.RunID)
	if err := g.run.CreateStorage(runctx.Options{
		StorageRoot: opts.StorageRoot,
		RunGroupID:  opts.RunGroupID,
		RunID:       opts.RunID,
		TemplateID:  opts.TemplateID,
		Test:        opts.Test,
	}); err != nil {
		g.sm.TransitionTo(Error)
		return fmt.Errorf("graph: create run storage: %w", err)
	}
	goSignal := make(chan struct{})

	for name, n := range g.nodes {
		engOpts := []engine.Option{
			engine.WithPriority(engine.Priority(n.advanced.ThreadPriority)),
			engine.WithAffinity(engine.Affinity{Enabled: n.advanced.ThreadCore >= 0, CPU: n.advanced.ThreadCore}),
		}
		if observer != nil {
			engOpts = append(engOpts, engine.WithObserver(observer))
		}
		n.eng = engine.New(name, n.proc, g.log, engOpts...)
		if err := n.eng.Start(g.run, goSignal); err != nil {
			g.sm.TransitionTo(Error)
			return fmt.Errorf("graph: start %q: %w", name, err)
		}
	}
	close(goSignal)

	return g.sm.TransitionTo(Processing)
}

// Stop transitions PROCESSING → STOPPING → READY, requesting every
// processor's run terminate and waiting for all engines to drain. Engines
// are joined concurrently via pkg/parallel.Group — StopProcessing's cost is
// the slowest single engine's teardown, not their sum, which matters when
// a graph hosts dozens of processors each with their own Postprocess I/O.
func (g *Graph) Stop() error {
	if err := g.sm.TransitionTo(Stopping); err != nil {
		return err
	}

	if g.run != nil {
		g.run.RequestStop()
	}
	for _, slots := range g.allOutputSlots() {
		slots.Terminate()
	}

	grp := parallel.GoGroup(context.Background())
	for _, n := range g.nodes {
		n := n
		if n.eng == nil {
			continue
		}
		grp.Go(func(context.Context) error { return n.eng.Stop(g.run) })
	}
	stopErr := grp.Wait()

	// spec §7: StopProcessing reports the run's recorded error, which may
	// differ from (and predates) whichever engine happened to return last
	// from Stop.
	if g.run != nil {
		if runErr := g.run.Err(); runErr != nil {
			g.sm.TransitionTo(Error)
			return runErr
		}
	}
	if stopErr != nil {
		g.sm.TransitionTo(Error)
		return stopErr
	}
	return g.sm.TransitionTo(Ready)
}

func (g *Graph) allOutputSlots() []*port.OutputSlot {
	var out []*port.OutputSlot
	for _, n := range g.nodes {
		for _, op := range n.ports.Outputs {
			out = append(out, op.Slots()...)
		}
	}
	return out
}

// Destroy transitions READY → NOGRAPH, running Unprepare on every
// processor and releasing the graph's node set.
func (g *Graph) Destroy() error {
	if err := g.sm.TransitionTo(NoGraph); err != nil {
		return err
	}
	var firstErr error
	for _, n := range g.nodes {
		if err := n.proc.Unprepare(g.global); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.nodes = make(map[string]*node)
	g.states = make(map[string]state.AnyHandle)
	g.methods = make(map[string]func(*yaml.Node) (*yaml.Node, error))
	g.order = nil
	return firstErr
}
