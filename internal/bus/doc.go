// Package bus moves envelopes over Redis Streams.
//
// Each topic is a stream. A message carries the JSON envelope in its "data"
// field and every publish attribute as an additional field:
//
//	XADD internal.egress.v1 * data {...} type chat.message.v1 correlationId c-1 source router-1
//
// Consumers read through a consumer group and acknowledge each message once
// it has been handled.
package bus
