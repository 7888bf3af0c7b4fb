// Package events publishes deployment notifications. The NATS publisher sends a
// protojson-encoded google.protobuf.Struct per successful deployment; Noop is used
// when no NATS URL is configured.
package events
