package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the cloud hierarchy.
const (
	// TopicPrefixCloud is the base for every topic the relay uses.
	TopicPrefixCloud = "graylogic/cloud"

	topicGateways = TopicPrefixCloud + "/gateways"
	topicCommands = TopicPrefixCloud + "/commands"
	topicReplies  = TopicPrefixCloud + "/replies"
)

// Topics provides builders for the relay's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.GatewayPresence("3f2a")
//	// Returns: "graylogic/cloud/gateways/3f2a/presence"
type Topics struct{}

// RelayStatus is where the relay announces itself online or offline.
// It doubles as the LWT topic.
//
// Example: graylogic/cloud/relay/status
func (Topics) RelayStatus() string {
	return TopicPrefixCloud + "/relay/status"
}

// GatewayPresence carries a gateway's retained online/offline status.
//
// Example: graylogic/cloud/gateways/3f2a/presence
func (Topics) GatewayPresence(gatewayID string) string {
	return fmt.Sprintf("%s/%s/presence", topicGateways, gatewayID)
}

// GatewayState carries the last state envelope a gateway reported, retained.
//
// Example: graylogic/cloud/gateways/3f2a/state
func (Topics) GatewayState(gatewayID string) string {
	return fmt.Sprintf("%s/%s/state", topicGateways, gatewayID)
}

// Command is the ingress topic for commands addressed to a gateway.
//
// Example: graylogic/cloud/commands/3f2a
func (Topics) Command(gatewayID string) string {
	return topicCommands + "/" + gatewayID
}

// Reply is where the outcome of an ingress command is published.
//
// Example: graylogic/cloud/replies/3f2a/8d1c...
func (Topics) Reply(gatewayID, requestID string) string {
	return fmt.Sprintf("%s/%s/%s", topicReplies, gatewayID, requestID)
}

// AllCommands matches the command ingress topic of every gateway.
func (Topics) AllCommands() string {
	return topicCommands + "/+"
}

// AllPresence matches every gateway presence topic.
func (Topics) AllPresence() string {
	return topicGateways + "/+/presence"
}

// ParseCommand extracts the gateway id from a command ingress topic.
func (Topics) ParseCommand(topic string) (gatewayID string, ok bool) {
	rest, found := strings.CutPrefix(topic, topicCommands+"/")
	if !found || !ValidSegment(rest) {
		return "", false
	}
	return rest, true
}

// ValidSegment reports whether s can be used as a single topic level.
// Empty strings, separators and wildcards are rejected.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
