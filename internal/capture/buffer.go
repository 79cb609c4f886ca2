package capture

import "github.com/banshee-data/laptrace/internal/telemetry"

// Buffer holds the in-progress lap's ordered samples. Exactly one lap owns a
// buffer at a time; on finalize the filled slice is handed to the Lap record
// via Take and the machine allocates a fresh buffer for the next lap.
type Buffer struct {
	samples []telemetry.Sample
	taken   bool
}

// NewBuffer allocates an empty buffer sized for a typical lap at 60 Hz.
func NewBuffer() *Buffer {
	return &Buffer{samples: make([]telemetry.Sample, 0, 4096)}
}

// Append adds a sample in arrival order. Appending to a finalized buffer is a
// programming error and panics.
func (b *Buffer) Append(s telemetry.Sample) {
	if b.taken {
		panic("capture: append to finalized buffer")
	}
	b.samples = append(b.samples, s)
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Take finalizes the buffer and transfers ownership of the sample slice to
// the caller. The buffer must not be used afterwards.
func (b *Buffer) Take() []telemetry.Sample {
	b.taken = true
	return b.samples
}
