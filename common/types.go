package common

// Seq is a sequence number assigned at ingress to each non-empty record.
// It is strictly monotonic over the lifetime of one client session. The
// server is stateless about sequence numbers; only clients assign them.
type Seq = uint64

// SeqRange is an inclusive range of sequence numbers.
//
// The canonical empty value is {0, 0}; whether a range is actually empty is
// decided by the companion record count of the structure holding it
// (a JSONBuffer with zero records carries the canonical empty range).
type SeqRange struct {
	// First is the first sequence number in the range.
	First Seq
	// Last is the last sequence number in the range.
	Last Seq
}

// Count returns the number of sequence numbers covered by the range.
func (r SeqRange) Count() uint64 {
	return r.Last - r.First + 1
}

// JSONItem is an owned record as produced by the queueing client: the raw
// JSON string paired with the sequence number assigned on arrival.
type JSONItem struct {
	// Seq is the sequence number of this record.
	Seq Seq
	// Data is the raw JSON string, without the trailing separator.
	Data string
}

const (
	// DefaultPort is the TCP port used by the server and clients when no
	// port is configured.
	DefaultPort uint16 = 10197

	// DefaultTCPBufferSize is the default receive buffer capacity.
	DefaultTCPBufferSize = 16 * 1024 * 1024

	// DefaultSeparator is the record separator on the wire.
	DefaultSeparator byte = '\n'
)
