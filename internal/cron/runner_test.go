package cronrunner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pricegov/internal/config"
	"pricegov/internal/protocol"
)

type capture struct {
	msgs []protocol.Message
}

func (c *capture) Publish(_ context.Context, msg protocol.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

type proposer struct {
	calls []string
}

func (p *proposer) Propose(_ context.Context, sku, _ string) (protocol.PriceProposal, error) {
	p.calls = append(p.calls, sku)
	if sku == "bad" {
		return protocol.PriceProposal{}, errors.New("no records")
	}
	return protocol.PriceProposal{ProductID: sku}, nil
}

func TestFetchJobPublishesPerSKU(t *testing.T) {
	pub := &capture{}
	job := FetchJob(pub, config.MarketDataConfig{SKUs: []string{"A", " ", "B"}, Market: "EU", Sources: []string{"http"}, Depth: 2}, nil)
	job(context.Background())
	if len(pub.msgs) != 2 {
		t.Fatalf("published=%d want=2", len(pub.msgs))
	}
	first := pub.msgs[0].(protocol.FetchRequest)
	second := pub.msgs[1].(protocol.FetchRequest)
	if first.SKU != "A" || first.Market != "EU" || first.Depth != 2 {
		t.Fatalf("req=%+v", first)
	}
	if first.RequestID == "" || first.RequestID == second.RequestID {
		t.Fatalf("request ids must be unique: %q %q", first.RequestID, second.RequestID)
	}
}

func TestOptimizeJobContinuesPastFailures(t *testing.T) {
	p := &proposer{}
	OptimizeJob(p, []string{"bad", "A"}, nil)(context.Background())
	if len(p.calls) != 2 || p.calls[1] != "A" {
		t.Fatalf("calls=%v", p.calls)
	}
}

func TestRunnerRunsAndRecovers(t *testing.T) {
	r := New(nil, context.Background())
	var runs int64
	if _, err := r.Add("tick", "@every 1s", func(context.Context) {
		if atomic.AddInt64(&runs, 1) == 1 {
			panic("first run")
		}
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected spec error")
	}
	r.Start()
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt64(&runs) < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	r.Stop()
	if atomic.LoadInt64(&runs) < 2 {
		t.Fatalf("runs=%d want>=2", runs)
	}
}
