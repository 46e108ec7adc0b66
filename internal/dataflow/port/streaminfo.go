package port

// StreamInfo describes the shape of the data flowing through a port: its
// sample rate, channel count, and the data type name carried by its ring
// buffer. Producers fill it in during CompleteStreamInfo; consumers
// negotiate against it when their own CompleteStreamInfo runs, which is
// why graph build order requires every producer's CompleteStreamInfo to
// run before any of its consumers'.
type StreamInfo struct {
	DataTypeName string
	SampleRateHz float64
	NumChannels  int
	BufferSize   int64

	// Resolved is false until a producer has actually filled this struct
	// in. Compatible treats an unresolved StreamInfo as incompatible; the
	// graph itself does not check this flag during build.
	Resolved bool
}

// Compatible reports whether a consumer can accept data described by want
// given what the producer actually published in have. The data type name
// must match exactly; channel count and sample rate must match unless
// want leaves them zero (consumer accepts any value).
func Compatible(have, want StreamInfo) bool {
	if !have.Resolved {
		return false
	}
	if have.DataTypeName != want.DataTypeName {
		return false
	}
	if want.NumChannels != 0 && have.NumChannels != want.NumChannels {
		return false
	}
	if want.SampleRateHz != 0 && have.SampleRateHz != want.SampleRateHz {
		return false
	}
	return true
}
