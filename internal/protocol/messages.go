package protocol

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is implemented by the typed payload of every topic.
type Message interface {
	Topic() Topic
}

// MarketTick is a normalized price observation.
type MarketTick struct {
	SKU             string           `json:"sku,omitempty"`
	Market          string           `json:"market,omitempty"`
	OurPrice        decimal.Decimal  `json:"our_price"`
	CompetitorPrice *decimal.Decimal `json:"competitor_price,omitempty"`
	DemandIndex     *float64         `json:"demand_index,omitempty"`
	TS              time.Time        `json:"ts"`
	Source          string           `json:"source,omitempty"`
}

func (MarketTick) Topic() Topic { return TopicMarketTick }

// PriceProposal is a candidate price change. PreviousPrice is the ledger price
// read when the proposal was computed and serves as the compare-and-swap token.
type PriceProposal struct {
	ProposalID    string           `json:"proposal_id,omitempty"`
	ProductID     string           `json:"product_id,omitempty"`
	PreviousPrice *decimal.Decimal `json:"previous_price"`
	ProposedPrice decimal.Decimal  `json:"proposed_price"`
	Margin        *float64         `json:"margin,omitempty"`
	Algorithm     string           `json:"algorithm,omitempty"`
	TS            time.Time        `json:"ts"`
}

func (PriceProposal) Topic() Topic { return TopicPriceProposal }

// PriceUpdate announces a ledger change made by governance.
type PriceUpdate struct {
	ProposalID    string           `json:"proposal_id,omitempty"`
	ProductID     string           `json:"product_id,omitempty"`
	PreviousPrice *decimal.Decimal `json:"previous_price,omitempty"`
	FinalPrice    decimal.Decimal  `json:"final_price"`
	TS            time.Time        `json:"ts"`
}

func (PriceUpdate) Topic() Topic { return TopicPriceUpdate }

// FetchRequest asks the collector to pull ticks for one SKU from a set of sources.
type FetchRequest struct {
	RequestID      string   `json:"request_id,omitempty"`
	SKU            string   `json:"sku,omitempty"`
	Market         string   `json:"market,omitempty"`
	Sources        []string `json:"sources"`
	URLs           []string `json:"urls,omitempty"`
	Depth          int      `json:"depth"`
	HorizonMinutes int      `json:"horizon_minutes"`
}

func (FetchRequest) Topic() Topic { return TopicFetchRequest }

type FetchAck struct {
	RequestID string `json:"request_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (FetchAck) Topic() Topic { return TopicFetchAck }

type FetchDone struct {
	RequestID string `json:"request_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Status    string `json:"status,omitempty"`
	TickCount int    `json:"tick_count"`
}

func (FetchDone) Topic() Topic { return TopicFetchDone }
