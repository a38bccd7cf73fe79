// Package mqtt provides the relay's connection to the cloud MQTT broker.
//
// The client reconnects on its own and replays its subscriptions after
// every reconnect. The relay's own status is published retained as a
// RelayStatus document on Topics.RelayStatus, and the same topic carries
// the broker-side will so consumers notice a relay that vanished.
//
// # Architecture
//
// The broker is an optional fan-out for other cloud services. The relay
// publishes gateway presence and the latest reported state as retained
// messages, and accepts commands for connected gateways on a command
// ingress topic. The WebSocket bridge remains the only path to gateways.
//
//	Cloud services ↔ MQTT Broker ↔ Relay ↔ WebSocket ↔ Gateways
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        gatewayID, ok := mqtt.Topics{}.ParseCommand(topic)
//	        ...
//	    })
//
//	client.PublishRetained(mqtt.Topics{}.GatewayPresence(id), payload)
package mqtt
