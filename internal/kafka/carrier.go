package kafka

import segkafka "github.com/segmentio/kafka-go"

// HeaderCarrier exposes a Kafka message's header slice as an OpenTelemetry
// propagation.TextMapCarrier, so the trace started at submission follows
// the record through the trigger pipeline.
type HeaderCarrier []segkafka.Header

// Get returns the value of the first header named key, or "" when absent.
func (c HeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set stores key=value, dropping any earlier headers with the same name.
func (c *HeaderCarrier) Set(key, value string) {
	kept := (*c)[:0]
	for _, h := range *c {
		if h.Key != key {
			kept = append(kept, h)
		}
	}
	*c = append(kept, segkafka.Header{Key: key, Value: []byte(value)})
}

// Keys lists every header name in the carrier.
func (c HeaderCarrier) Keys() []string {
	names := make([]string, len(c))
	for i, h := range c {
		names[i] = h.Key
	}
	return names
}
