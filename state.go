package coremqtt

import (
	"fmt"
	"sync"
)

// DefaultStateCapacity is the default number of in-flight publishes tracked
// per direction.
const DefaultStateCapacity = 10

// PublishState is the acknowledgment state of one in-flight publish.
// MQTT v3.1.1 spec: Section 4.3
type PublishState int

// Publish states. The *Send states mean this client owes the peer a packet,
// the *Pending states mean this client is waiting for one.
const (
	StateNull PublishState = iota
	PublishSend
	PubAckSend
	PubRecSend
	PubRelSend
	PubCompSend
	PubAckPending
	PubRecPending
	PubRelPending
	PubCompPending
	PublishDone
)

// String returns the string representation of the state.
func (s PublishState) String() string {
	switch s {
	case StateNull:
		return "MQTTStateNull"
	case PublishSend:
		return "MQTTPublishSend"
	case PubAckSend:
		return "MQTTPubAckSend"
	case PubRecSend:
		return "MQTTPubRecSend"
	case PubRelSend:
		return "MQTTPubRelSend"
	case PubCompSend:
		return "MQTTPubCompSend"
	case PubAckPending:
		return "MQTTPubAckPending"
	case PubRecPending:
		return "MQTTPubRecPending"
	case PubRelPending:
		return "MQTTPubRelPending"
	case PubCompPending:
		return "MQTTPubCompPending"
	case PublishDone:
		return "MQTTPublishDone"
	default:
		return "MQTTStateUnknown"
	}
}

// StateOperation says whether a packet is being sent or was received.
type StateOperation int

// State operations.
const (
	StateSend StateOperation = iota
	StateReceive
)

// String returns the string representation of the operation.
func (op StateOperation) String() string {
	if op == StateSend {
		return "send"
	}
	return "receive"
}

type publishRecord struct {
	qos   QoS
	state PublishState
}

// PublishStateTracker tracks the acknowledgment state of QoS 1 and QoS 2
// publishes, keyed by packet identifier and direction. Outgoing records
// belong to publishes this client sent, incoming records to publishes it
// received.
type PublishStateTracker struct {
	mu       sync.Mutex
	outgoing map[uint16]*publishRecord
	incoming map[uint16]*publishRecord
	capacity int
}

// NewPublishStateTracker creates a tracker holding at most capacity records
// per direction. A non-positive capacity selects DefaultStateCapacity.
func NewPublishStateTracker(capacity int) *PublishStateTracker {
	if capacity <= 0 {
		capacity = DefaultStateCapacity
	}

	return &PublishStateTracker{
		outgoing: make(map[uint16]*publishRecord),
		incoming: make(map[uint16]*publishRecord),
		capacity: capacity,
	}
}

func (t *PublishStateTracker) records(op StateOperation) map[uint16]*publishRecord {
	if op == StateSend {
		return t.outgoing
	}
	return t.incoming
}

// ReserveState reserves an outgoing record for a publish about to be sent.
// QoS 0 publishes are not tracked and always succeed.
func (t *PublishStateTracker) ReserveState(packetID uint16, qos QoS) error {
	if qos == QoS0 {
		return nil
	}
	if packetID == 0 {
		return fmt.Errorf("%w: packet identifier is 0", ErrBadParameter)
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: QoS %d", ErrBadParameter, qos)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.add(t.outgoing, packetID, qos, PublishSend)
}

func (t *PublishStateTracker) add(records map[uint16]*publishRecord, packetID uint16, qos QoS, state PublishState) error {
	if _, ok := records[packetID]; ok {
		return fmt.Errorf("%w: packet identifier %d", ErrStateCollision, packetID)
	}
	if len(records) >= t.capacity {
		return fmt.Errorf("%w: %d publishes in flight", ErrNoMemory, len(records))
	}

	records[packetID] = &publishRecord{qos: qos, state: state}

	return nil
}

// ReleaseState drops the outgoing record of packetID. It is used to roll back
// a reservation whose publish could not be sent.
func (t *PublishStateTracker) ReleaseState(packetID uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.outgoing[packetID]; !ok {
		return fmt.Errorf("%w: no outgoing publish with packet identifier %d", ErrBadParameter, packetID)
	}
	delete(t.outgoing, packetID)

	return nil
}

// UpdateStatePublish advances the record of a PUBLISH that was sent or
// received and returns the new state.
//
// Sending moves a reserved record to PubAckPending or PubRecPending.
// Receiving creates an incoming record in PubAckSend or PubRecSend. A QoS 2
// PUBLISH received again while its PUBREL is pending moves back to
// PubRecSend so that PUBREC is sent again. QoS 0 publishes go straight to
// PublishDone without a record.
func (t *PublishStateTracker) UpdateStatePublish(packetID uint16, op StateOperation, qos QoS) (PublishState, error) {
	if qos == QoS0 {
		return PublishDone, nil
	}
	if packetID == 0 {
		return StateNull, fmt.Errorf("%w: packet identifier is 0", ErrBadParameter)
	}
	if !qos.Valid() {
		return StateNull, fmt.Errorf("%w: QoS %d", ErrBadParameter, qos)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if op == StateSend {
		rec, ok := t.outgoing[packetID]
		if !ok {
			return StateNull, fmt.Errorf("%w: no outgoing publish with packet identifier %d", ErrBadParameter, packetID)
		}
		if rec.state != PublishSend || rec.qos != qos {
			return StateNull, fmt.Errorf("%w: sending PUBLISH %d in state %s", ErrIllegalState, packetID, rec.state)
		}

		if qos == QoS1 {
			rec.state = PubAckPending
		} else {
			rec.state = PubRecPending
		}
		return rec.state, nil
	}

	next := PubAckSend
	if qos == QoS2 {
		next = PubRecSend
	}

	if rec, ok := t.incoming[packetID]; ok {
		if qos == QoS2 && rec.qos == QoS2 && (rec.state == PubRelPending || rec.state == PubRecSend) {
			rec.state = PubRecSend
			return rec.state, nil
		}
		return StateNull, fmt.Errorf("%w: received PUBLISH %d in state %s", ErrStateCollision, packetID, rec.state)
	}

	if err := t.add(t.incoming, packetID, qos, next); err != nil {
		return StateNull, err
	}

	return next, nil
}

// ackTransition describes the single legal transition an acknowledgment
// causes: the record direction it touches, the state it requires and the
// state it leads to.
type ackTransition struct {
	dir  StateOperation
	from PublishState
	to   PublishState
}

func transitionFor(ack PubAckType, op StateOperation) ackTransition {
	if op == StateReceive {
		switch ack {
		case Puback:
			return ackTransition{StateSend, PubAckPending, PublishDone}
		case Pubrec:
			return ackTransition{StateSend, PubRecPending, PubRelSend}
		case Pubrel:
			return ackTransition{StateReceive, PubRelPending, PubCompSend}
		default:
			return ackTransition{StateSend, PubCompPending, PublishDone}
		}
	}

	switch ack {
	case Puback:
		return ackTransition{StateReceive, PubAckSend, PublishDone}
	case Pubrec:
		return ackTransition{StateReceive, PubRecSend, PubRelPending}
	case Pubrel:
		return ackTransition{StateSend, PubRelSend, PubCompPending}
	default:
		return ackTransition{StateReceive, PubCompSend, PublishDone}
	}
}

// UpdateStateAck advances the record an acknowledgment refers to and returns
// the new state. Records reaching PublishDone are removed.
func (t *PublishStateTracker) UpdateStateAck(packetID uint16, ack PubAckType, op StateOperation) (PublishState, error) {
	if packetID == 0 {
		return StateNull, fmt.Errorf("%w: packet identifier is 0", ErrBadParameter)
	}
	if ack < Puback || ack > Pubcomp {
		return StateNull, fmt.Errorf("%w: acknowledgment type %d", ErrBadParameter, ack)
	}

	tr := transitionFor(ack, op)

	t.mu.Lock()
	defer t.mu.Unlock()

	records := t.records(tr.dir)

	rec, ok := records[packetID]
	if !ok {
		return StateNull, fmt.Errorf("%w: no publish with packet identifier %d for %s %s", ErrBadParameter, packetID, op, ack)
	}
	if rec.state != tr.from {
		return StateNull, fmt.Errorf("%w: %s %s for packet identifier %d in state %s", ErrIllegalState, op, ack, packetID, rec.state)
	}

	if tr.to == PublishDone {
		delete(records, packetID)
		return PublishDone, nil
	}

	rec.state = tr.to

	return rec.state, nil
}

// State returns the state of a record. StateSend selects the records of
// publishes this client sent, StateReceive those it received. Unknown
// identifiers report StateNull.
func (t *PublishStateTracker) State(packetID uint16, op StateOperation) PublishState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records(op)[packetID]; ok {
		return rec.state
	}

	return StateNull
}

// Count returns the number of records in both directions.
func (t *PublishStateTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.outgoing) + len(t.incoming)
}

// Clear drops every record.
func (t *PublishStateTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.outgoing)
	clear(t.incoming)
}
