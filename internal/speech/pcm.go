package speech

import "encoding/binary"

const (
	// SampleRate is the rate the speech server expects, in Hz.
	SampleRate = 16000
	// FrameSamples is the number of samples per audio frame, about 128ms.
	FrameSamples = 2048
	// FrameBytes is the size of an encoded frame.
	FrameBytes = FrameSamples * 2
)

// FloatToPCM16 converts a sample in [-1, 1] to signed 16-bit. Out of range
// input is clamped. Negative samples scale by 0x8000 and positive ones by
// 0x7FFF so both ends map to the full int16 range.
func FloatToPCM16(sample float32) int16 {
	switch {
	case sample < -1:
		sample = -1
	case sample > 1:
		sample = 1
	}
	if sample < 0 {
		return int16(sample * 0x8000)
	}
	return int16(sample * 0x7FFF)
}

// EncodePCM16LE encodes samples as little-endian s16 bytes.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Chunker accumulates float samples into fixed-size PCM16 frames.
type Chunker struct {
	size int
	buf  []int16
}

// NewChunker returns a Chunker emitting frames of size samples.
// A non-positive size uses FrameSamples.
func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = FrameSamples
	}
	return &Chunker{size: size, buf: make([]int16, 0, size)}
}

// Write converts samples and returns every frame completed by them.
// Leftover samples are held until the next Write or Flush.
func (c *Chunker) Write(samples []float32) [][]int16 {
	var frames [][]int16
	for _, s := range samples {
		c.buf = append(c.buf, FloatToPCM16(s))
		if len(c.buf) == c.size {
			frames = append(frames, c.buf)
			c.buf = make([]int16, 0, c.size)
		}
	}
	return frames
}

// Flush returns any buffered samples as a short frame, or nil.
func (c *Chunker) Flush() []int16 {
	if len(c.buf) == 0 {
		return nil
	}
	frame := c.buf
	c.buf = make([]int16, 0, c.size)
	return frame
}
