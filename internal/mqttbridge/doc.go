// Package mqttbridge mirrors the coordinator's snapshots to an MQTT broker
// and accepts register writes from it.
//
// Topics, under a configurable prefix (default "acond"):
//
//	<prefix>/state          JSON: status, updated_at, error, registers
//	<prefix>/<register>     one catalog register, published when it changes
//	<prefix>/availability   "online" while a snapshot is served, else "offline" (last will)
//	<prefix>/set/<register> subscribed; payload is a number or an option label
//
// Set commands go through coordinator WriteRegister, so they are validated
// against the register catalog before anything is sent to the controller.
package mqttbridge
