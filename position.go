package eventprocessor

import "time"

// positionTag identifies which field of EventPosition is meaningful.
type positionTag int

const (
	positionEarliest positionTag = iota
	positionLatest
	positionOffset
	positionSequence
	positionEnqueuedTime
)

// EventPosition is a starting-position descriptor for a partition reader: a
// tagged union of {Earliest, Latest, FromOffset, FromSequence,
// FromEnqueuedTime}. It is a value type — two positions are equal iff they
// carry the same tag and payload.
type EventPosition struct {
	tag             positionTag
	offset          int64
	sequenceNumber  int64
	inclusive       bool
	enqueuedTime    time.Time
}

// EarliestEventPosition starts a reader at the first available event.
func EarliestEventPosition() EventPosition {
	return EventPosition{tag: positionEarliest}
}

// LatestEventPosition starts a reader after the last event currently enqueued.
func LatestEventPosition() EventPosition {
	return EventPosition{tag: positionLatest}
}

// FromOffset starts a reader immediately after the given byte offset.
func FromOffset(offset int64) EventPosition {
	return EventPosition{tag: positionOffset, offset: offset}
}

// FromSequenceNumber starts a reader at the given sequence number.
// inclusive controls whether the event at that exact sequence number is
// itself delivered.
func FromSequenceNumber(sequenceNumber int64, inclusive bool) EventPosition {
	return EventPosition{tag: positionSequence, sequenceNumber: sequenceNumber, inclusive: inclusive}
}

// FromEnqueuedTime starts a reader at the first event enqueued at or after t.
func FromEnqueuedTime(t time.Time) EventPosition {
	return EventPosition{tag: positionEnqueuedTime, enqueuedTime: t}
}

// Equal reports whether two positions carry the same tag and payload.
func (p EventPosition) Equal(other EventPosition) bool {
	if p.tag != other.tag {
		return false
	}
	switch p.tag {
	case positionOffset:
		return p.offset == other.offset
	case positionSequence:
		return p.sequenceNumber == other.sequenceNumber && p.inclusive == other.inclusive
	case positionEnqueuedTime:
		return p.enqueuedTime.Equal(other.enqueuedTime)
	default:
		return true // Earliest/Latest carry no payload
	}
}

// IsEarliest reports whether this position is the Earliest tag.
func (p EventPosition) IsEarliest() bool { return p.tag == positionEarliest }

// IsLatest reports whether this position is the Latest tag.
func (p EventPosition) IsLatest() bool { return p.tag == positionLatest }

// Offset returns the byte offset and true iff this is a FromOffset position.
func (p EventPosition) Offset() (int64, bool) {
	if p.tag != positionOffset {
		return 0, false
	}
	return p.offset, true
}

// SequenceNumber returns the sequence number, its inclusivity and true iff
// this is a FromSequenceNumber position.
func (p EventPosition) SequenceNumber() (seq int64, inclusive bool, ok bool) {
	if p.tag != positionSequence {
		return 0, false, false
	}
	return p.sequenceNumber, p.inclusive, true
}

// EnqueuedTime returns the timestamp and true iff this is a
// FromEnqueuedTime position.
func (p EventPosition) EnqueuedTime() (time.Time, bool) {
	if p.tag != positionEnqueuedTime {
		return time.Time{}, false
	}
	return p.enqueuedTime, true
}

func (p EventPosition) String() string {
	switch p.tag {
	case positionEarliest:
		return "earliest"
	case positionLatest:
		return "latest"
	case positionOffset:
		return "offset"
	case positionSequence:
		return "sequence"
	case positionEnqueuedTime:
		return "enqueued-time"
	default:
		return "unknown"
	}
}
