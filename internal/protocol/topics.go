// Package protocol defines the bus topics, their required payload keys and
// one typed message per topic.
package protocol

import (
	"fmt"
	"sort"
	"strings"
)

type Topic string

const (
	TopicMarketTick    Topic = "market.tick"
	TopicPriceProposal Topic = "price.proposal"
	TopicPriceUpdate   Topic = "price.update"
	TopicFetchRequest  Topic = "market.fetch.request"
	TopicFetchAck      Topic = "market.fetch.ack"
	TopicFetchDone     Topic = "market.fetch.done"
)

// Schemas maps each topic to the keys a payload must carry. Only presence is
// checked; value types are the decoder's concern.
var Schemas = map[Topic][]string{
	TopicMarketTick:    {"sku", "market", "our_price", "ts", "source"},
	TopicPriceProposal: {"proposal_id", "product_id", "previous_price", "proposed_price"},
	TopicPriceUpdate:   {"proposal_id", "product_id", "final_price"},
	TopicFetchRequest:  {"request_id", "sku", "market", "sources", "depth", "horizon_minutes"},
	TopicFetchAck:      {"request_id", "job_id", "status"},
	TopicFetchDone:     {"request_id", "job_id", "status", "tick_count"},
}

func (t Topic) String() string { return string(t) }

func (t Topic) Known() bool {
	_, ok := Schemas[t]
	return ok
}

// Topics returns every known topic in lexical order.
func Topics() []Topic {
	out := make([]Topic, 0, len(Schemas))
	for t := range Schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate reports whether payload carries every key required by topic.
func Validate(topic Topic, payload map[string]any) (bool, string) {
	required, ok := Schemas[topic]
	if !ok {
		return false, fmt.Sprintf("unknown topic %q", topic)
	}
	if payload == nil {
		return false, "payload is nil"
	}
	var missing []string
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return false, "missing required keys: " + strings.Join(missing, ", ")
	}
	return true, ""
}

// ValidationError is returned for payloads that fail the topic schema or cannot be decoded.
type ValidationError struct {
	Topic  Topic
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Topic, e.Reason)
}
