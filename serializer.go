package coremqtt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// PublishAckPacketSize is the size of a PUBACK, PUBREC, PUBREL or PUBCOMP packet.
	PublishAckPacketSize = 4

	pingreqPacketSize    = 2
	disconnectPacketSize = 2

	// Protocol name, protocol level, connect flags and keep alive.
	connectVariableHeaderSize = 10

	protocolLevel311 = 4
)

// CONNECT flags.
// MQTT v3.1.1 spec: Section 3.1.2.3
const (
	connectFlagCleanSession byte = 0x02
	connectFlagWill         byte = 0x04
	connectFlagWillQoS1     byte = 0x08
	connectFlagWillQoS2     byte = 0x10
	connectFlagWillRetain   byte = 0x20
	connectFlagPassword     byte = 0x40
	connectFlagUsername     byte = 0x80
)

func badParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadParameter, fmt.Sprintf(format, args...))
}

func badResponse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadResponse, fmt.Sprintf(format, args...))
}

func noMemory(need, have int) error {
	return fmt.Errorf("%w: buffer holds %d bytes, packet needs %d", ErrNoMemory, have, need)
}

func packetSizeFor(remainingLength int) int {
	return 1 + remainingLengthSize(remainingLength) + remainingLength
}

func validateTopicName(topic string) error {
	if topic == "" {
		return badParameter("topic name is empty")
	}
	if err := validateString(topic); err != nil {
		return badParameter("topic name: %v", err)
	}
	if strings.ContainsAny(topic, "+#") {
		return badParameter("topic name %q contains wildcards", topic)
	}
	return nil
}

func validateTopicFilter(filter string) error {
	if filter == "" {
		return badParameter("topic filter is empty")
	}
	if err := validateString(filter); err != nil {
		return badParameter("topic filter: %v", err)
	}
	return nil
}

// GetConnectPacketSize computes the remaining length and total size of the
// CONNECT packet for the given connection and optional will parameters.
func GetConnectPacketSize(connect *ConnectInfo, will *PublishInfo) (remainingLength, packetSize int, err error) {
	if connect == nil {
		return 0, 0, badParameter("connect info is nil")
	}

	if err := validateString(connect.ClientIdentifier); err != nil {
		return 0, 0, badParameter("client identifier: %v", err)
	}

	// MQTT v3.1.1 spec: Section 3.1.3.1
	if connect.ClientIdentifier == "" && !connect.CleanSession {
		return 0, 0, badParameter("empty client identifier requires a clean session")
	}

	remainingLength = connectVariableHeaderSize + 2 + len(connect.ClientIdentifier)

	if will != nil {
		if err := validateTopicName(will.TopicName); err != nil {
			return 0, 0, err
		}
		if !will.QoS.Valid() {
			return 0, 0, badParameter("will QoS %d", will.QoS)
		}
		if len(will.Payload) > maxUint16 {
			return 0, 0, badParameter("will payload: %v", errBinaryTooLong)
		}
		remainingLength += 2 + len(will.TopicName) + 2 + len(will.Payload)
	}

	if connect.UserName != "" {
		if err := validateString(connect.UserName); err != nil {
			return 0, 0, badParameter("user name: %v", err)
		}
		remainingLength += 2 + len(connect.UserName)
	}

	if len(connect.Password) > 0 {
		// MQTT v3.1.1 spec: Section 3.1.2.9
		if connect.UserName == "" {
			return 0, 0, badParameter("password requires a user name")
		}
		if len(connect.Password) > maxUint16 {
			return 0, 0, badParameter("password: %v", errBinaryTooLong)
		}
		remainingLength += 2 + len(connect.Password)
	}

	return remainingLength, packetSizeFor(remainingLength), nil
}

// SerializeConnect writes a CONNECT packet into buf.
// remainingLength must come from GetConnectPacketSize.
func SerializeConnect(connect *ConnectInfo, will *PublishInfo, remainingLength int, buf []byte) error {
	if connect == nil {
		return badParameter("connect info is nil")
	}

	packetSize := packetSizeFor(remainingLength)
	if len(buf) < packetSize {
		return noMemory(packetSize, len(buf))
	}

	buf[0] = byte(PacketCONNECT)
	n := 1 + encodeRemainingLength(buf[1:], remainingLength)
	n += encodeString(buf[n:], "MQTT")
	buf[n] = protocolLevel311
	n++

	var flags byte
	if connect.CleanSession {
		flags |= connectFlagCleanSession
	}
	if will != nil {
		flags |= connectFlagWill
		switch will.QoS {
		case QoS1:
			flags |= connectFlagWillQoS1
		case QoS2:
			flags |= connectFlagWillQoS2
		}
		if will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if connect.UserName != "" {
		flags |= connectFlagUsername
	}
	if len(connect.Password) > 0 {
		flags |= connectFlagPassword
	}
	buf[n] = flags
	n++

	binary.BigEndian.PutUint16(buf[n:], connect.KeepAliveIntervalSec)
	n += 2

	n += encodeString(buf[n:], connect.ClientIdentifier)

	if will != nil {
		n += encodeString(buf[n:], will.TopicName)
		n += encodeBinary(buf[n:], will.Payload)
	}
	if connect.UserName != "" {
		n += encodeString(buf[n:], connect.UserName)
	}
	if len(connect.Password) > 0 {
		n += encodeBinary(buf[n:], connect.Password)
	}

	if n != packetSize {
		return badParameter("remaining length %d does not match connect info", remainingLength)
	}

	return nil
}

// GetPublishPacketSize computes the remaining length and total size of a
// PUBLISH packet.
func GetPublishPacketSize(publish *PublishInfo) (remainingLength, packetSize int, err error) {
	if publish == nil {
		return 0, 0, badParameter("publish info is nil")
	}

	if err := validateTopicName(publish.TopicName); err != nil {
		return 0, 0, err
	}

	if !publish.QoS.Valid() {
		return 0, 0, badParameter("QoS %d", publish.QoS)
	}

	remainingLength = 2 + len(publish.TopicName) + len(publish.Payload)
	if publish.QoS > QoS0 {
		remainingLength += 2
	}

	if remainingLength > MaxRemainingLength {
		return 0, 0, badParameter("publish remaining length %d exceeds %d", remainingLength, MaxRemainingLength)
	}

	return remainingLength, packetSizeFor(remainingLength), nil
}

func validatePublishID(publish *PublishInfo, packetID uint16) error {
	if publish.QoS > QoS0 && packetID == 0 {
		return badParameter("packet identifier is 0 for PUBLISH with QoS %d", publish.QoS)
	}
	if publish.QoS == QoS0 && packetID != 0 {
		return badParameter("packet identifier %d for PUBLISH with QoS 0", packetID)
	}
	if publish.QoS == QoS0 && publish.Dup {
		return badParameter("DUP flag set on PUBLISH with QoS 0")
	}
	return nil
}

// serializePublishHeader writes everything but the payload and returns the
// number of bytes written.
func serializePublishHeader(publish *PublishInfo, packetID uint16, remainingLength int, buf []byte) int {
	first := byte(PacketPUBLISH)
	switch publish.QoS {
	case QoS1:
		first |= publishFlagQoS1
	case QoS2:
		first |= publishFlagQoS2
	}
	if publish.Retain {
		first |= publishFlagRetain
	}
	if publish.Dup {
		first |= publishFlagDup
	}

	buf[0] = first
	n := 1 + encodeRemainingLength(buf[1:], remainingLength)
	n += encodeString(buf[n:], publish.TopicName)

	if publish.QoS > QoS0 {
		binary.BigEndian.PutUint16(buf[n:], packetID)
		n += 2
	}

	return n
}

// SerializePublishHeader writes the fixed header, topic name and packet
// identifier of a PUBLISH packet into buf, leaving the payload to be sent
// separately. Returns the number of header bytes written.
func SerializePublishHeader(publish *PublishInfo, packetID uint16, remainingLength int, buf []byte) (int, error) {
	if publish == nil {
		return 0, badParameter("publish info is nil")
	}
	if err := validatePublishID(publish, packetID); err != nil {
		return 0, err
	}

	headerSize := packetSizeFor(remainingLength) - len(publish.Payload)
	if len(buf) < headerSize {
		return 0, noMemory(headerSize, len(buf))
	}

	return serializePublishHeader(publish, packetID, remainingLength, buf), nil
}

// SerializePublish writes a complete PUBLISH packet, payload included, into buf.
func SerializePublish(publish *PublishInfo, packetID uint16, remainingLength int, buf []byte) error {
	if publish == nil {
		return badParameter("publish info is nil")
	}
	if err := validatePublishID(publish, packetID); err != nil {
		return err
	}

	packetSize := packetSizeFor(remainingLength)
	if len(buf) < packetSize {
		return noMemory(packetSize, len(buf))
	}

	n := serializePublishHeader(publish, packetID, remainingLength, buf)
	copy(buf[n:], publish.Payload)

	return nil
}

// SerializeAck writes a PUBACK, PUBREC, PUBREL or PUBCOMP packet into buf.
func SerializeAck(buf []byte, packetType PacketType, packetID uint16) error {
	switch packetType {
	case PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP:
	default:
		return badParameter("packet type 0x%02X is not a publish acknowledgment", byte(packetType))
	}

	if packetID == 0 {
		return badParameter("packet identifier is 0")
	}

	if len(buf) < PublishAckPacketSize {
		return noMemory(PublishAckPacketSize, len(buf))
	}

	buf[0] = byte(packetType)
	buf[1] = 2
	binary.BigEndian.PutUint16(buf[2:], packetID)

	return nil
}

// GetSubscribePacketSize computes the remaining length and total size of a
// SUBSCRIBE packet.
func GetSubscribePacketSize(subscriptions []SubscribeInfo) (remainingLength, packetSize int, err error) {
	if len(subscriptions) == 0 {
		return 0, 0, badParameter("subscription list is empty")
	}

	remainingLength = 2
	for _, sub := range subscriptions {
		if err := validateTopicFilter(sub.TopicFilter); err != nil {
			return 0, 0, err
		}
		if !sub.QoS.Valid() {
			return 0, 0, badParameter("subscription QoS %d", sub.QoS)
		}
		remainingLength += 2 + len(sub.TopicFilter) + 1
	}

	if remainingLength > MaxRemainingLength {
		return 0, 0, badParameter("subscribe remaining length %d exceeds %d", remainingLength, MaxRemainingLength)
	}

	return remainingLength, packetSizeFor(remainingLength), nil
}

// SerializeSubscribe writes a SUBSCRIBE packet into buf.
func SerializeSubscribe(subscriptions []SubscribeInfo, packetID uint16, remainingLength int, buf []byte) error {
	if len(subscriptions) == 0 {
		return badParameter("subscription list is empty")
	}
	if packetID == 0 {
		return badParameter("packet identifier is 0")
	}

	packetSize := packetSizeFor(remainingLength)
	if len(buf) < packetSize {
		return noMemory(packetSize, len(buf))
	}

	buf[0] = byte(PacketSUBSCRIBE)
	n := 1 + encodeRemainingLength(buf[1:], remainingLength)
	binary.BigEndian.PutUint16(buf[n:], packetID)
	n += 2

	for _, sub := range subscriptions {
		n += encodeString(buf[n:], sub.TopicFilter)
		buf[n] = byte(sub.QoS)
		n++
	}

	return nil
}

// GetUnsubscribePacketSize computes the remaining length and total size of
// an UNSUBSCRIBE packet.
func GetUnsubscribePacketSize(subscriptions []SubscribeInfo) (remainingLength, packetSize int, err error) {
	if len(subscriptions) == 0 {
		return 0, 0, badParameter("subscription list is empty")
	}

	remainingLength = 2
	for _, sub := range subscriptions {
		if err := validateTopicFilter(sub.TopicFilter); err != nil {
			return 0, 0, err
		}
		remainingLength += 2 + len(sub.TopicFilter)
	}

	if remainingLength > MaxRemainingLength {
		return 0, 0, badParameter("unsubscribe remaining length %d exceeds %d", remainingLength, MaxRemainingLength)
	}

	return remainingLength, packetSizeFor(remainingLength), nil
}

// SerializeUnsubscribe writes an UNSUBSCRIBE packet into buf.
func SerializeUnsubscribe(subscriptions []SubscribeInfo, packetID uint16, remainingLength int, buf []byte) error {
	if len(subscriptions) == 0 {
		return badParameter("subscription list is empty")
	}
	if packetID == 0 {
		return badParameter("packet identifier is 0")
	}

	packetSize := packetSizeFor(remainingLength)
	if len(buf) < packetSize {
		return noMemory(packetSize, len(buf))
	}

	buf[0] = byte(PacketUNSUBSCRIBE)
	n := 1 + encodeRemainingLength(buf[1:], remainingLength)
	binary.BigEndian.PutUint16(buf[n:], packetID)
	n += 2

	for _, sub := range subscriptions {
		n += encodeString(buf[n:], sub.TopicFilter)
	}

	return nil
}

// GetPingreqPacketSize returns the size of a PINGREQ packet.
func GetPingreqPacketSize() (int, error) {
	return pingreqPacketSize, nil
}

// SerializePingreq writes a PINGREQ packet into buf.
func SerializePingreq(buf []byte) error {
	if len(buf) < pingreqPacketSize {
		return noMemory(pingreqPacketSize, len(buf))
	}

	buf[0] = byte(PacketPINGREQ)
	buf[1] = 0

	return nil
}

// GetDisconnectPacketSize returns the size of a DISCONNECT packet.
func GetDisconnectPacketSize() (int, error) {
	return disconnectPacketSize, nil
}

// SerializeDisconnect writes a DISCONNECT packet into buf.
func SerializeDisconnect(buf []byte) error {
	if len(buf) < disconnectPacketSize {
		return noMemory(disconnectPacketSize, len(buf))
	}

	buf[0] = byte(PacketDISCONNECT)
	buf[1] = 0

	return nil
}

func remainingData(info *PacketInfo) ([]byte, error) {
	if info == nil {
		return nil, badParameter("packet info is nil")
	}
	if info.RemainingLength > 0 && len(info.RemainingData) < info.RemainingLength {
		return nil, badParameter("packet holds %d of %d remaining bytes", len(info.RemainingData), info.RemainingLength)
	}
	return info.RemainingData[:info.RemainingLength], nil
}

// DeserializePublish parses an incoming PUBLISH packet.
// The returned payload aliases info.RemainingData.
func DeserializePublish(info *PacketInfo) (uint16, PublishInfo, error) {
	var publish PublishInfo

	data, err := remainingData(info)
	if err != nil {
		return 0, publish, err
	}

	if info.Type.Kind() != PacketPUBLISH {
		return 0, publish, badParameter("packet type %s is not PUBLISH", info.Type)
	}

	flags := byte(info.Type) & 0x0F
	publish.QoS = QoS((flags >> 1) & 0x03)
	publish.Retain = flags&publishFlagRetain != 0
	publish.Dup = flags&publishFlagDup != 0

	if !publish.QoS.Valid() {
		return 0, publish, badResponse("PUBLISH with QoS 3")
	}
	if publish.QoS == QoS0 && publish.Dup {
		return 0, publish, badResponse("DUP flag set on PUBLISH with QoS 0")
	}

	topic, n, err := decodeString(data)
	if err != nil {
		return 0, publish, badResponse("PUBLISH topic name: %v", err)
	}
	if topic == "" {
		return 0, publish, badResponse("PUBLISH with empty topic name")
	}
	publish.TopicName = topic

	var packetID uint16
	if publish.QoS > QoS0 {
		if len(data) < n+2 {
			return 0, publish, badResponse("PUBLISH truncated before packet identifier")
		}
		packetID = binary.BigEndian.Uint16(data[n:])
		n += 2
		if packetID == 0 {
			return 0, publish, badResponse("PUBLISH with QoS %d and packet identifier 0", publish.QoS)
		}
	}

	publish.Payload = data[n:]

	return packetID, publish, nil
}

// DeserializeAck parses an incoming CONNACK, PUBACK, PUBREC, PUBREL, PUBCOMP,
// SUBACK, UNSUBACK or PINGRESP packet.
//
// The session present flag is only meaningful for CONNACK and the packet
// identifier is zero for CONNACK and PINGRESP. A CONNACK refusing the
// connection returns a *ConnackError.
func DeserializeAck(info *PacketInfo) (packetID uint16, sessionPresent bool, err error) {
	data, err := remainingData(info)
	if err != nil {
		return 0, false, err
	}

	switch kind := classifyIncoming(info.Type); kind {
	case incomingConnack:
		return 0, false, deserializeConnack(data)

	case incomingPuback, incomingPubrec, incomingPubrel, incomingPubcomp, incomingUnsuback:
		if len(data) != 2 {
			return 0, false, badResponse("%s remaining length %d", info.Type, len(data))
		}
		packetID = binary.BigEndian.Uint16(data)
		if packetID == 0 {
			return 0, false, badResponse("%s with packet identifier 0", info.Type)
		}
		return packetID, false, nil

	case incomingSuback:
		packetID, _, err = parseSuback(data)
		return packetID, false, err

	case incomingPingresp:
		if len(data) != 0 {
			return 0, false, badResponse("PINGRESP remaining length %d", len(data))
		}
		return 0, false, nil

	default:
		return 0, false, badParameter("packet type 0x%02X is not an acknowledgment", byte(info.Type))
	}
}

// DeserializeConnack parses an incoming CONNACK and reports the session
// present flag.
func DeserializeConnack(info *PacketInfo) (bool, error) {
	data, err := remainingData(info)
	if err != nil {
		return false, err
	}
	if classifyIncoming(info.Type) != incomingConnack {
		return false, badParameter("packet type %s is not CONNACK", info.Type)
	}
	if err := deserializeConnack(data); err != nil {
		return false, err
	}
	return data[0]&0x01 != 0, nil
}

// MQTT v3.1.1 spec: Section 3.2
func deserializeConnack(data []byte) error {
	if len(data) != 2 {
		return badResponse("CONNACK remaining length %d", len(data))
	}

	if data[0]&0xFE != 0 {
		return badResponse("CONNACK reserved flags 0x%02X", data[0])
	}

	code := ConnackReturnCode(data[1])
	if code > ConnackNotAuthorized {
		return badResponse("CONNACK return code 0x%02X", byte(code))
	}

	if code != ConnackAccepted {
		// MQTT v3.1.1 spec: Section 3.2.2.2
		if data[0]&0x01 != 0 {
			return badResponse("CONNACK refusing the connection with session present")
		}
		return &ConnackError{ReturnCode: code}
	}

	return nil
}

func parseSuback(data []byte) (uint16, []SubackReturnCode, error) {
	if len(data) < 3 {
		return 0, nil, badResponse("SUBACK remaining length %d", len(data))
	}

	packetID := binary.BigEndian.Uint16(data)
	if packetID == 0 {
		return 0, nil, badResponse("SUBACK with packet identifier 0")
	}

	codes := make([]SubackReturnCode, 0, len(data)-2)
	for _, b := range data[2:] {
		code := SubackReturnCode(b)
		if !code.Valid() {
			return 0, nil, badResponse("SUBACK return code 0x%02X", b)
		}
		codes = append(codes, code)
	}

	return packetID, codes, nil
}

// GetSubackStatusCodes returns the packet identifier and the per-filter
// return codes of a SUBACK packet, in subscription order.
func GetSubackStatusCodes(info *PacketInfo) (uint16, []SubackReturnCode, error) {
	data, err := remainingData(info)
	if err != nil {
		return 0, nil, err
	}
	if classifyIncoming(info.Type) != incomingSuback {
		return 0, nil, badParameter("packet type %s is not SUBACK", info.Type)
	}
	return parseSuback(data)
}

// GetIncomingPacketTypeAndLength reads the fixed header of the next incoming
// packet from transport.
//
// It returns ErrNoDataAvailable when the first byte is not available yet,
// ErrRecvFailed on a transport error and ErrBadResponse for a packet type a
// client cannot receive or a malformed remaining length.
func GetIncomingPacketTypeAndLength(transport Transport, info *PacketInfo) error {
	if transport == nil || info == nil {
		return badParameter("transport and packet info must not be nil")
	}

	var one [1]byte

	n, err := transport.Recv(one[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecvFailed, err)
	}
	if n == 0 {
		return ErrNoDataAvailable
	}

	info.Type = PacketType(one[0])
	info.RemainingData = nil

	if classifyIncoming(info.Type) == incomingUnknown {
		return badResponse("incoming packet type 0x%02X", one[0])
	}

	length, err := decodeRemainingLength(func() (byte, error) {
		n, err := transport.Recv(one[:])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRecvFailed, err)
		}
		if n != 1 {
			return 0, badResponse("remaining length byte not available")
		}
		return one[0], nil
	})
	if err != nil {
		if errors.Is(err, ErrRecvFailed) || errors.Is(err, ErrBadResponse) {
			return err
		}
		return badResponse("remaining length: %v", err)
	}

	info.RemainingLength = length

	return nil
}
