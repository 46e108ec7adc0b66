package port

import "testing"

func TestStreamInfoCompatible_RejectsUnresolvedProducer(t *testing.T) {
	have := StreamInfo{}
	want := StreamInfo{DataTypeName: "x"}
	if Compatible(have, want) {
		t.Fatal("expected incompatible: producer never resolved its StreamInfo")
	}
}

func TestStreamInfoCompatible_RejectsDataTypeMismatch(t *testing.T) {
	have := StreamInfo{Resolved: true, DataTypeName: "foo", NumChannels: 1}
	want := StreamInfo{DataTypeName: "bar"}
	if Compatible(have, want) {
		t.Fatal("expected incompatible: data type names differ")
	}
}

func TestStreamInfoCompatible_AcceptsZeroSampleRateWant(t *testing.T) {
	have := StreamInfo{Resolved: true, DataTypeName: "foo", SampleRateHz: 30000, NumChannels: 4}
	want := StreamInfo{DataTypeName: "foo", NumChannels: 4}
	if !Compatible(have, want) {
		t.Fatal("expected compatible: consumer accepts any sample rate")
	}
}

func TestStreamInfoCompatible_RejectsSampleRateMismatch(t *testing.T) {
	have := StreamInfo{Resolved: true, DataTypeName: "foo", SampleRateHz: 30000}
	want := StreamInfo{DataTypeName: "foo", SampleRateHz: 1000}
	if Compatible(have, want) {
		t.Fatal("expected incompatible: sample rates differ and want pins one")
	}
}
