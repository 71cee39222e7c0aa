package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"

	"pricegov/internal/config"
)

func TestDecodeTicksShapes(t *testing.T) {
	cases := map[string]int{
		`[{"sku":"A","our_price":1},{"sku":"B","our_price":"2.5"}]`: 2,
		`{"ticks":[{"sku":"A","our_price":1}]}`:                     1,
		`{"sku":"A","our_price":1}`:                                 1,
		``:                                                          0,
	}
	for raw, want := range cases {
		got, err := DecodeTicks([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeTicks(%q) err=%v", raw, err)
		}
		if len(got) != want {
			t.Fatalf("DecodeTicks(%q) len=%d want=%d", raw, len(got), want)
		}
	}
	if _, err := DecodeTicks([]byte(`"nope"`)); err == nil {
		t.Fatalf("expected error for scalar payload")
	}
}

func TestShapeDefaultsAndLimits(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-2 * time.Hour)
	fresh := now.Add(-5 * time.Minute)
	p := decimal.NewFromInt(10)
	items := []RawTick{
		{OurPrice: &p, TS: &old},
		{OurPrice: &p, TS: &fresh},
		{OurPrice: &p},
		{OurPrice: &p, SKU: "OTHER", Source: "feed"},
	}
	got := Shape(items, Target{SKU: "A", Market: "EU", Depth: 2, HorizonMinutes: 60}, "http", now)
	if len(got) != 2 {
		t.Fatalf("len=%d want=2", len(got))
	}
	if got[0].SKU != "A" || got[0].Market != "EU" || got[0].Source != "http" {
		t.Fatalf("defaults not applied: %+v", got[0])
	}
	if got[0].TS == nil || !got[0].TS.Equal(fresh) {
		t.Fatalf("old tick not filtered: %+v", got[0])
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prices/SKU-1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"ticks":[{"our_price":"19.99","competitor_price":18.5}]}`))
	}))
	defer srv.Close()

	s := &HTTPSource{HTTP: srv.Client(), Endpoint: srv.URL + "/prices/{sku}"}
	got, err := s.Fetch(context.Background(), Target{SKU: "SKU-1", Market: "DEFAULT"})
	if err != nil {
		t.Fatalf("fetch err=%v", err)
	}
	if len(got) != 1 || got[0].SKU != "SKU-1" || !got[0].OurPrice.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("got=%+v", got)
	}
	if s.Health().Status != "healthy" {
		t.Fatalf("health=%+v", s.Health())
	}

	_, err = s.Fetch(context.Background(), Target{SKU: "x", URL: srv.URL + "/missing"})
	if err == nil {
		t.Fatalf("expected status error")
	}
	if h := s.Health(); h.Status != "down" || h.LastError == nil {
		t.Fatalf("health=%+v", h)
	}
}

func TestWebSocketSourceCollectsDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for i := 0; i < 5; i++ {
			raw, _ := json.Marshal(map[string]any{"sku": "S", "our_price": 10 + i})
			if err := conn.Write(r.Context(), websocket.MessageText, raw); err != nil {
				return
			}
		}
		_, _, _ = conn.Read(context.Background())
	}))
	defer srv.Close()

	s := &WebSocketSource{URL: "ws" + srv.URL[len("http"):], ReadTimeout: 2 * time.Second}
	got, err := s.Fetch(context.Background(), Target{SKU: "S", Depth: 3})
	if err != nil {
		t.Fatalf("fetch err=%v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want=3", len(got))
	}
	if got[2].Source != "websocket" || !got[2].OurPrice.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("got[2]=%+v", got[2])
	}
}

func TestRegistry(t *testing.T) {
	failing := NewStaticSource("broken")
	failing.Err = errors.New("down")
	r := NewRegistry(NewStaticSource(""), failing, &HTTPSource{})
	if _, ok := r.Get("STATIC"); !ok {
		t.Fatalf("lookup should be case-insensitive")
	}
	if _, ok := r.Get("ftp"); ok {
		t.Fatalf("unexpected source")
	}
	names := r.Names()
	if len(names) != 3 || names[0] != "broken" {
		t.Fatalf("names=%v", names)
	}
	if _, ok := r.Health()["http"]; !ok {
		t.Fatalf("http source should report health")
	}
}

func TestFromConfig(t *testing.T) {
	demand := 1.5
	reg, err := FromConfig(config.ConnectorsConfig{
		HTTP: config.HTTPConnectorConfig{Enabled: true, Endpoint: "http://example.invalid/{sku}"},
		Static: config.StaticConnectorConfig{
			Enabled: true,
			Ticks: []config.StaticTick{
				{SKU: "A", OurPrice: "10.00", CompetitorPrice: "9.50", DemandIndex: &demand},
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "http" || got[1] != "static" {
		t.Fatalf("unexpected sources: %v", got)
	}
	src, _ := reg.Get("static")
	ticks, err := src.Fetch(context.Background(), Target{SKU: "A", Depth: 5})
	if err != nil || len(ticks) != 1 {
		t.Fatalf("fetch: %v %v", ticks, err)
	}
	if !ticks[0].CompetitorPrice.Equal(decimal.RequireFromString("9.5")) {
		t.Fatalf("unexpected competitor price: %s", ticks[0].CompetitorPrice)
	}

	_, err = FromConfig(config.ConnectorsConfig{
		Static: config.StaticConnectorConfig{Enabled: true, Ticks: []config.StaticTick{{SKU: "A", OurPrice: "abc"}}},
	}, nil)
	if err == nil {
		t.Fatalf("expected error for bad price")
	}
}
