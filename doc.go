// Package coremqtt implements the client side of MQTT 3.1.1.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// It has two layers: a transport independent protocol engine and a
// concurrent Client built on top of it.
//
// # Serializer
//
// The Get*PacketSize, Serialize* and Deserialize* functions encode and
// decode every packet a client sends or receives into caller provided
// buffers. They never allocate the packet buffer themselves:
//
//	remainingLength, packetSize, err := coremqtt.GetPublishPacketSize(publish)
//	buf := make([]byte, packetSize)
//	err = coremqtt.SerializePublish(publish, packetID, remainingLength, buf)
//
// # Engine
//
// A Context drives one connection over a Transport, which moves bytes and
// may report that no data is available yet. The engine tracks the QoS 1
// and QoS 2 handshakes of every in-flight publish, answers them, and sends
// PINGREQ when the connection is idle:
//
//	engine, err := coremqtt.NewContext(transport, coremqtt.Callbacks{
//	    GetTime:     coremqtt.MonotonicClock(),
//	    AppCallback: onPacket,
//	}, make([]byte, 1024))
//
//	sessionPresent, err := engine.Connect(&coremqtt.ConnectInfo{
//	    ClientIdentifier: "sensor-1",
//	    CleanSession:     true,
//	    KeepAliveIntervalSec: 60,
//	}, nil, 5000)
//
//	for {
//	    if err := engine.ProcessLoop(100); err != nil {
//	        break
//	    }
//	}
//
// A Context is single threaded. Callbacks run on the goroutine calling
// ProcessLoop and must not call back into the same Context.
//
// # Client
//
// Client owns a connection and a Context, runs the receive loop in the
// background and blocks QoS 1 and QoS 2 operations until the broker
// acknowledges them:
//
//	client, err := coremqtt.Dial(ctx, "tcp://localhost:1883",
//	    coremqtt.WithClientID("my-client"),
//	    coremqtt.WithKeepAlive(60),
//	    coremqtt.WithMessageHandler(func(msg *coremqtt.Message) {
//	        fmt.Println(msg.Topic, string(msg.Payload))
//	    }),
//	)
//	defer client.Close()
//
//	_, err = client.Subscribe(ctx, coremqtt.SubscribeInfo{TopicFilter: "sensors/#", QoS: coremqtt.QoS1})
//	err = client.Publish(ctx, &coremqtt.Message{Topic: "sensors/1", Payload: []byte("21.5"), QoS: coremqtt.QoS1})
//
// Broker URLs select the transport: tcp and mqtt, tls and mqtts, ws and
// wss, quic, and unix.
//
// # Errors
//
// Engine operations return errors wrapping a Status. Compare with
// errors.Is against the Err* values, or recover the code with StatusOf:
//
//	if errors.Is(err, coremqtt.ErrKeepAliveTimeout) {
//	    // reconnect
//	}
package coremqtt
