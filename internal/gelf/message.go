// Package gelf decodes Graylog Extended Log Format frames and tags them
// for republishing.
package gelf

// Field names added to every message before it is published.
const (
	KeyField    = "gelf_kafka_listener_key"
	SourceField = "source_ip"
)

// Message is a decoded GELF payload. No schema is enforced: any JSON object
// is a valid message.
type Message map[string]any
