package command

import "log"

// Broadcast payload understood by the device firmware.
const (
	Start      = "START"
	Stop       = "STOP"
	AllDevices = "ALL"
)

// Publisher delivers broadcast commands to the device control plane. The
// transport (MQTT broker, message bus) is owned by the deployment, not by
// this service; handlers only see this interface.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// LogPublisher writes commands to the process log. It stands in wherever no
// real transport is wired, for local development and tests.
type LogPublisher struct{}

// Publish logs the command and reports success.
func (LogPublisher) Publish(topic string, payload []byte) error {
	log.Printf("Command published: topic=%s payload=%s", topic, payload)
	return nil
}
