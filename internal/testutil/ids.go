package testutil

// FixedRequestID returns the same request id every time.
//
// Unlike engine.FixedGenerator, which returns ids in sequence and panics
// when they run out, this generator never runs out, so golden output of
// any number of requests stays byte-identical.
//
// Thread-safety: FixedRequestID is stateless and safe for concurrent use.
type FixedRequestID struct {
	id string
}

// NewFixedRequestID creates a generator of id. An empty id becomes
// "test-request".
func NewFixedRequestID(id string) *FixedRequestID {
	if id == "" {
		id = "test-request"
	}
	return &FixedRequestID{id: id}
}

// Generate returns the fixed id.
//
// Implements engine.RequestIDGenerator.
func (g *FixedRequestID) Generate() string {
	return g.id
}
