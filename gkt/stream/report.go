package stream

// Status is the outcome of decrypting one frame.
type Status uint8

const (
	// StatusIntact: decrypted and the checksum matched.
	StatusIntact Status = iota
	// StatusChecksumMismatch: decrypted, but the chunk differs from what was
	// encrypted.
	StatusChecksumMismatch
	// StatusDegraded: recovered block by block; some bytes may be
	// Placeholder and the length may differ from the original chunk.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusIntact:
		return "intact"
	case StatusChecksumMismatch:
		return "checksum-mismatch"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// FrameResult describes one frame of a decrypted stream.
type FrameResult struct {
	Index       int
	Offset      int // byte offset of the frame in the stream
	Length      int // plaintext bytes contributed
	Status      Status
	Substituted int // blocks replaced by placeholders
}

// Report collects per-frame outcomes of a Decrypt call.
type Report struct {
	Frames            []FrameResult
	DiscardedTrailing int
}

// Reliable reports whether every frame was intact and nothing was dropped.
func (r *Report) Reliable() bool {
	return r.DiscardedTrailing == 0 && r.Count(StatusIntact) == len(r.Frames)
}

// Count returns how many frames ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, f := range r.Frames {
		if f.Status == s {
			n++
		}
	}
	return n
}
