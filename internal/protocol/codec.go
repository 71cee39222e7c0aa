package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// proposalSynonyms lists accepted alternate keys for price.proposal fields,
// in lookup order. Resolution happens only when decoding at the boundary.
var proposalSynonyms = map[string][]string{
	"proposal_id":    {"id"},
	"product_id":     {"sku", "product", "product_name"},
	"proposed_price": {"new_price", "recommended_price", "price"},
	"previous_price": {"current_price", "old_price", "base_price"},
}

// ToPayload encodes msg into the key map that is validated and journaled.
func ToPayload(msg Message) (map[string]any, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Topic(), err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Topic(), err)
	}
	return out, nil
}

// NormalizeProposal returns a copy of payload with synonym keys folded into
// their canonical names. Canonical keys already present are never overwritten.
func NormalizeProposal(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+len(proposalSynonyms))
	for k, v := range payload {
		out[k] = v
	}
	for canonical, alts := range proposalSynonyms {
		if _, ok := out[canonical]; ok {
			continue
		}
		for _, alt := range alts {
			if v, ok := payload[alt]; ok {
				out[canonical] = v
				break
			}
		}
	}
	return out
}

// Decode turns an untyped payload into the typed message for topic. The
// payload is validated against the schema first.
func Decode(topic Topic, payload map[string]any) (Message, error) {
	if topic == TopicPriceProposal {
		payload = NormalizeProposal(payload)
	}
	if ok, reason := Validate(topic, payload); !ok {
		return nil, &ValidationError{Topic: topic, Reason: reason}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{Topic: topic, Reason: err.Error()}
	}
	var msg Message
	switch topic {
	case TopicMarketTick:
		var m MarketTick
		err = json.Unmarshal(raw, &m)
		msg = m
	case TopicPriceProposal:
		var m PriceProposal
		err = json.Unmarshal(raw, &m)
		msg = m
	case TopicPriceUpdate:
		var m PriceUpdate
		err = json.Unmarshal(raw, &m)
		msg = m
	case TopicFetchRequest:
		var m FetchRequest
		err = json.Unmarshal(raw, &m)
		msg = m
	case TopicFetchAck:
		var m FetchAck
		err = json.Unmarshal(raw, &m)
		msg = m
	case TopicFetchDone:
		var m FetchDone
		err = json.Unmarshal(raw, &m)
		msg = m
	default:
		return nil, &ValidationError{Topic: topic, Reason: "unknown topic"}
	}
	if err != nil {
		return nil, &ValidationError{Topic: topic, Reason: err.Error()}
	}
	return msg, nil
}
