// Package examplemod provides two minimal reference processors —
// SourceProcessor and SinkProcessor — standing in for the concrete nlx
// reader / filter / decoder / replay identifier that are genuinely out of
// scope for this runtime. They exist to exercise the core engine
// end-to-end: build, prepare, run, and stop a real graph against them.
package examplemod

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-arcade/arcade/internal/dataflow/datatype"
	"github.com/go-arcade/arcade/internal/dataflow/port"
	"github.com/go-arcade/arcade/internal/dataflow/processor"
	"github.com/go-arcade/arcade/internal/dataflow/runctx"
	"github.com/go-arcade/arcade/internal/dataflow/state"
	"github.com/go-arcade/arcade/pkg/ctx"
)

// CounterItem is the sole payload type these two processors exchange: a
// monotonically increasing sample count stamped with its production time.
type CounterItem struct {
	header datatype.Header
	Value  int64
}

func (c *CounterItem) ClearData()            { c.Value = 0 }
func (c *CounterItem) Header() datatype.Header { return c.header }
func (c *CounterItem) SetHeader(h datatype.Header) { c.header = h }

func (c *CounterItem) Serialize(format datatype.Format) ([]byte, error) {
	if format == datatype.NONE {
		return nil, nil
	}
	return datatype.Frame(c.header, c.Value)
}

func (c *CounterItem) Deserialize(format datatype.Format, data []byte) error {
	if format == datatype.NONE {
		return nil
	}
	return datatype.Unframe(data, &c.header, &c.Value)
}

func (c *CounterItem) Describe() string {
	return fmt.Sprintf("CounterItem{value=%d, serial=%d}", c.Value, c.header.SerialNum)
}

// sourceConfig is the YAML params SourceProcessor.Configure understands.
type sourceConfig struct {
	RateHz     float64 `yaml:"rate_hz"`
	BufferSize int64   `yaml:"buffer_size"`
}

// SourceProcessor emits a CounterItem on its single output port at a
// configurable rate, standing in for a live acquisition source.
type SourceProcessor struct {
	cfg    sourceConfig
	out    *port.OutputSlot
	serial uint64
}

func NewSourceProcessor() processor.IProcessor { return &SourceProcessor{} }

func (p *SourceProcessor) Configure(node *yaml.Node, _ *ctx.Context) error {
	p.cfg = sourceConfig{RateHz: 1000, BufferSize: 1024}
	if node != nil {
		if err := node.Decode(&p.cfg); err != nil {
			return fmt.Errorf("examplemod: source config: %w", err)
		}
	}
	return nil
}

func (p *SourceProcessor) CreatePorts() ([]processor.PortSpec, error) {
	return []processor.PortSpec{{
		Name: "out", Output: true, NumSlots: 1, BufferSize: p.cfg.BufferSize,
		ItemFactory: func() datatype.Item { return &CounterItem{} },
	}}, nil
}

func (p *SourceProcessor) CompleteStreamInfo(ports *processor.Ports) error {
	p.out = ports.Output("out", 0)
	p.out.Stream = port.StreamInfo{
		DataTypeName: "examplemod.CounterItem",
		SampleRateHz: p.cfg.RateHz,
		NumChannels:  1,
		BufferSize:   p.cfg.BufferSize,
		Resolved:     true,
	}
	return nil
}

func (p *SourceProcessor) Prepare(_ *ctx.Context) error { return nil }
func (p *SourceProcessor) Preprocess(_ *runctx.Context) error { return nil }

func (p *SourceProcessor) Process(run *runctx.Context) error {
	item := p.out.ClaimOne(true).(*CounterItem)
	item.Value = int64(p.serial)
	h := item.Header()
	h.SourceTimestamp = time.Now()
	h.SourceName = "source"
	item.SetHeader(h)
	p.serial++
	if err := p.out.Publish(); err != nil {
		return fmt.Errorf("examplemod: source publish: %w", err)
	}

	if p.cfg.RateHz > 0 {
		select {
		case <-run.Done():
		case <-time.After(time.Duration(float64(time.Second) / p.cfg.RateHz)):
		}
	}
	return nil
}

func (p *SourceProcessor) Postprocess(_ *runctx.Context) error { return nil }
func (p *SourceProcessor) Unprepare(_ *ctx.Context) error      { return nil }

// sinkConfig is the YAML params SinkProcessor.Configure understands.
type sinkConfig struct {
	RetrieveTimeoutMs int64 `yaml:"retrieve_timeout_ms"`
}

// SinkProcessor retrieves from its single input port and keeps a running
// count, exposed as external-readable shared state so a control-plane
// client (or a test) can observe progress without a dedicated output port.
type SinkProcessor struct {
	cfg   sinkConfig
	in    *port.InputSlot
	count *state.SharedState[int64]
}

func NewSinkProcessor() processor.IProcessor { return &SinkProcessor{} }

func (p *SinkProcessor) Configure(node *yaml.Node, _ *ctx.Context) error {
	p.cfg = sinkConfig{RetrieveTimeoutMs: 100}
	if node != nil {
		if err := node.Decode(&p.cfg); err != nil {
			return fmt.Errorf("examplemod: sink config: %w", err)
		}
	}
	p.count = state.New("count", state.Permissions{
		Self: state.Write, Peers: state.Read, External: state.Read,
	}, int64(0))
	return nil
}

func (p *SinkProcessor) CreatePorts() ([]processor.PortSpec, error) {
	return []processor.PortSpec{{
		Name: "in", Output: false, NumSlots: 1, CacheEnabled: true,
	}}, nil
}

func (p *SinkProcessor) CompleteStreamInfo(ports *processor.Ports) error {
	p.in = ports.Input("in", 0)
	return nil
}

func (p *SinkProcessor) Prepare(_ *ctx.Context) error { return nil }
func (p *SinkProcessor) Preprocess(_ *runctx.Context) error { return nil }

func (p *SinkProcessor) Process(run *runctx.Context) error {
	timeout := time.Duration(p.cfg.RetrieveTimeoutMs) * time.Millisecond
	_, status, err := p.in.RetrieveOne(timeout)
	if err != nil {
		return fmt.Errorf("examplemod: sink retrieve: %w", err)
	}
	if status.Read > 0 {
		current, _ := p.count.Get(state.AudienceSelf)
		_ = p.count.Set(state.AudienceSelf, current+int64(status.Read))
	}
	p.in.Release()
	return nil
}

func (p *SinkProcessor) Postprocess(_ *runctx.Context) error { return nil }
func (p *SinkProcessor) Unprepare(_ *ctx.Context) error       { return nil }

// SharedStates implements processor.StatefulProcessor.
func (p *SinkProcessor) SharedStates() map[string]state.AnyHandle {
	return map[string]state.AnyHandle{"count": p.count}
}

// Methods implements processor.MethodProcessor: "reset" zeroes the
// running count and returns whatever it held immediately before the
// reset, so a control-plane caller can read-and-clear in one round trip.
func (p *SinkProcessor) Methods() map[string]func(*yaml.Node) (*yaml.Node, error) {
	return map[string]func(*yaml.Node) (*yaml.Node, error){
		"reset": p.reset,
	}
}

func (p *SinkProcessor) reset(*yaml.Node) (*yaml.Node, error) {
	previous, err := p.count.Get(state.AudienceSelf)
	if err != nil {
		return nil, err
	}
	if err := p.count.Set(state.AudienceSelf, 0); err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := node.Encode(previous); err != nil {
		return nil, err
	}
	return &node, nil
}
