package coremqtt

// PacketType is the first byte of an MQTT fixed header: the control packet
// type in the high nibble and the fixed header flags in the low nibble.
// MQTT v3.1.1 spec: Section 2.2
type PacketType byte

// MQTT control packet first bytes with their mandatory flags.
// PUBLISH carries DUP, QoS and RETAIN in its low nibble, so only its high
// nibble is fixed.
const (
	PacketCONNECT     PacketType = 0x10
	PacketCONNACK     PacketType = 0x20
	PacketPUBLISH     PacketType = 0x30
	PacketPUBACK      PacketType = 0x40
	PacketPUBREC      PacketType = 0x50
	PacketPUBREL      PacketType = 0x62
	PacketPUBCOMP     PacketType = 0x70
	PacketSUBSCRIBE   PacketType = 0x82
	PacketSUBACK      PacketType = 0x90
	PacketUNSUBSCRIBE PacketType = 0xA2
	PacketUNSUBACK    PacketType = 0xB0
	PacketPINGREQ     PacketType = 0xC0
	PacketPINGRESP    PacketType = 0xD0
	PacketDISCONNECT  PacketType = 0xE0
)

// PUBLISH fixed header flag bits.
const (
	publishFlagRetain byte = 0x01
	publishFlagQoS1   byte = 0x02
	publishFlagQoS2   byte = 0x04
	publishFlagDup    byte = 0x08
)

// Kind returns the packet type with the flag nibble cleared.
func (p PacketType) Kind() PacketType {
	return p & 0xF0
}

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	switch p.Kind() {
	case PacketCONNECT:
		return "CONNECT"
	case PacketCONNACK:
		return "CONNACK"
	case PacketPUBLISH:
		return "PUBLISH"
	case PacketPUBACK:
		return "PUBACK"
	case PacketPUBREC:
		return "PUBREC"
	case PacketPUBREL & 0xF0:
		return "PUBREL"
	case PacketPUBCOMP:
		return "PUBCOMP"
	case PacketSUBSCRIBE & 0xF0:
		return "SUBSCRIBE"
	case PacketSUBACK:
		return "SUBACK"
	case PacketUNSUBSCRIBE & 0xF0:
		return "UNSUBSCRIBE"
	case PacketUNSUBACK:
		return "UNSUBACK"
	case PacketPINGREQ:
		return "PINGREQ"
	case PacketPINGRESP:
		return "PINGRESP"
	case PacketDISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// incomingKind classifies a packet a client may receive from a broker.
// Every value of PacketType maps to exactly one kind, and incomingUnknown
// collects the ones a client must reject.
type incomingKind int

const (
	incomingUnknown incomingKind = iota
	incomingConnack
	incomingPublish
	incomingPuback
	incomingPubrec
	incomingPubrel
	incomingPubcomp
	incomingSuback
	incomingUnsuback
	incomingPingresp
)

// classifyIncoming maps the first byte of an incoming packet to its kind.
// Reserved flag bits must match exactly for every type except PUBLISH.
func classifyIncoming(t PacketType) incomingKind {
	if t.Kind() == PacketPUBLISH {
		return incomingPublish
	}

	switch t {
	case PacketCONNACK:
		return incomingConnack
	case PacketPUBACK:
		return incomingPuback
	case PacketPUBREC:
		return incomingPubrec
	case PacketPUBREL:
		return incomingPubrel
	case PacketPUBCOMP:
		return incomingPubcomp
	case PacketSUBACK:
		return incomingSuback
	case PacketUNSUBACK:
		return incomingUnsuback
	case PacketPINGRESP:
		return incomingPingresp
	default:
		return incomingUnknown
	}
}

// QoS is the delivery guarantee of a PUBLISH.
type QoS byte

// QoS levels.
const (
	QoS0 QoS = 0
	QoS1 QoS = 1
	QoS2 QoS = 2
)

// Valid returns true if q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= QoS2
}

// PacketInfo describes an incoming packet: its first byte, its remaining
// length and, once received, the bytes after the fixed header.
type PacketInfo struct {
	Type            PacketType
	RemainingLength int
	RemainingData   []byte
}

// PublishInfo holds the parameters of a PUBLISH packet.
//
// For incoming publishes Payload aliases the context network buffer and is
// only valid for the duration of the application callback.
type PublishInfo struct {
	QoS       QoS
	Retain    bool
	Dup       bool
	TopicName string
	Payload   []byte
}

// ConnectInfo holds the parameters of a CONNECT packet.
type ConnectInfo struct {
	CleanSession         bool
	KeepAliveIntervalSec uint16
	ClientIdentifier     string
	UserName             string
	Password             []byte
}

// SubscribeInfo is one entry of a SUBSCRIBE or UNSUBSCRIBE packet.
// QoS is ignored for UNSUBSCRIBE.
type SubscribeInfo struct {
	QoS         QoS
	TopicFilter string
}

// PubAckType identifies one of the four publish acknowledgments.
type PubAckType int

// Publish acknowledgment types.
const (
	Puback PubAckType = iota
	Pubrec
	Pubrel
	Pubcomp
)

// String returns the string representation of the acknowledgment type.
func (a PubAckType) String() string {
	return a.packetType().String()
}

func (a PubAckType) packetType() PacketType {
	switch a {
	case Puback:
		return PacketPUBACK
	case Pubrec:
		return PacketPUBREC
	case Pubrel:
		return PacketPUBREL
	default:
		return PacketPUBCOMP
	}
}

// ackTypeFromKind converts an acknowledgment kind to its PubAckType.
// Callers only pass the four publish acknowledgment kinds.
func ackTypeFromKind(k incomingKind) PubAckType {
	switch k {
	case incomingPuback:
		return Puback
	case incomingPubrec:
		return Pubrec
	case incomingPubrel:
		return Pubrel
	default:
		return Pubcomp
	}
}
