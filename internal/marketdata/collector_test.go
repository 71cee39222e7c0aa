package marketdata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pricegov/internal/bus"
	"pricegov/internal/config"
	"pricegov/internal/connector"
	"pricegov/internal/db"
	"pricegov/internal/dedup"
	"pricegov/internal/models"
	"pricegov/internal/protocol"
	"pricegov/internal/repository"
	gormrepository "pricegov/internal/repository/gorm"
	"pricegov/internal/worker"
)

type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) handle(_ context.Context, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) statuses(requestID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		switch v := m.(type) {
		case protocol.FetchAck:
			if v.RequestID == requestID {
				out = append(out, "ack:"+v.Status)
			}
		case protocol.FetchDone:
			if v.RequestID == requestID {
				out = append(out, fmt.Sprintf("done:%d", v.TickCount))
			}
		}
	}
	return out
}

func (r *recorder) ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if _, ok := m.(protocol.MarketTick); ok {
			n++
		}
	}
	return n
}

func newStore(t *testing.T) *gormrepository.Store {
	t.Helper()
	conn, err := db.Open(config.DBConfig{DSN: filepath.Join(t.TempDir(), "md.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))
	return gormrepository.New(conn.Gorm)
}

func newHarness(t *testing.T, repo repository.MarketDataRepository, sources ...connector.TickSource) (*Collector, *bus.Bus, *recorder) {
	t.Helper()
	b := bus.New(nil, nil)
	rec := &recorder{}
	for _, topic := range []protocol.Topic{protocol.TopicFetchAck, protocol.TopicFetchDone, protocol.TopicMarketTick} {
		b.Subscribe(topic, rec.handle)
	}
	c := &Collector{
		Repo:    repo,
		Bus:     b,
		Sources: connector.NewRegistry(sources...),
		Dedup:   dedup.NewMemoryStore(),
	}
	c.Attach(b)
	return c, b, rec
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestIngestTickDefaultsAndValidation(t *testing.T) {
	store := newStore(t)
	c, _, rec := newHarness(t, store)
	ctx := context.Background()

	_, err := c.IngestTick(ctx, connector.RawTick{OurPrice: price("1")})
	require.ErrorIs(t, err, ErrMissingField)
	_, err = c.IngestTick(ctx, connector.RawTick{SKU: "A"})
	require.ErrorIs(t, err, ErrMissingField)

	tick, err := c.IngestTick(ctx, connector.RawTick{SKU: "A", OurPrice: price("9.99")})
	require.NoError(t, err)
	require.Equal(t, DefaultMarket, tick.Market)
	require.Equal(t, UnknownSource, tick.Source)
	require.False(t, tick.TS.IsZero())
	require.Equal(t, 1, rec.ticks())

	rows, err := store.ListRecentTicks(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].OurPrice.Equal(decimal.RequireFromString("9.99")))
}

func TestFetchRequestLifecycle(t *testing.T) {
	store := newStore(t)
	good := connector.NewStaticSource("static").Add("A",
		connector.RawTick{OurPrice: price("10")},
		connector.RawTick{OurPrice: price("11"), CompetitorPrice: price("10.5")},
	)
	broken := connector.NewStaticSource("broken")
	broken.Err = errors.New("connection refused")
	_, b, rec := newHarness(t, store, good, broken)
	ctx := context.Background()

	req := protocol.FetchRequest{RequestID: "r1", SKU: "A", Market: "DEFAULT", Sources: []string{"broken", "static", "missing"}, Depth: 10, HorizonMinutes: 60}
	require.NoError(t, b.Publish(ctx, req))

	require.Equal(t, []string{"ack:QUEUED", "ack:RUNNING", "done:2"}, rec.statuses("r1"))
	jobs, err := store.ListIngestionJobs(ctx, repository.ListIngestionJobsParams{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, models.JobDone, jobs[0].Status)
	require.Equal(t, 2, jobs[0].TickCount)
	require.Equal(t, "broken,static,missing", jobs[0].Connector)
}

func TestFetchRequestDuplicatesDropped(t *testing.T) {
	store := newStore(t)
	src := connector.NewStaticSource("static").Add("A", connector.RawTick{OurPrice: price("10")})
	c, b, rec := newHarness(t, store, src)
	pool := worker.New(4, 16, nil)
	c.Pool = pool
	ctx := context.Background()

	req := protocol.FetchRequest{RequestID: "dup", SKU: "A", Market: "DEFAULT", Sources: []string{"static"}, Depth: 1, HorizonMinutes: 0}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Publish(ctx, req)
		}()
	}
	wg.Wait()
	pool.Stop()

	jobs, err := store.ListIngestionJobs(ctx, repository.ListIngestionJobsParams{RequestID: &req.RequestID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 1, src.Calls())
	require.Equal(t, []string{"ack:QUEUED", "ack:RUNNING", "done:1"}, rec.statuses("dup"))
}

type flakyRepo struct {
	*gormrepository.Store
	failOn  string
	panicOn string
}

func (r *flakyRepo) TransitionIngestionJob(ctx context.Context, id string, t repository.JobTransition) (bool, error) {
	if t.Status == r.panicOn {
		panic("driver exploded")
	}
	if t.Status == r.failOn {
		return false, errors.New("disk I/O error")
	}
	return r.Store.TransitionIngestionJob(ctx, id, t)
}

func TestJobFailureOutsideSourceLoopMarksFailed(t *testing.T) {
	for _, tc := range []struct {
		name string
		repo func(*gormrepository.Store) *flakyRepo
	}{
		{"error", func(s *gormrepository.Store) *flakyRepo { return &flakyRepo{Store: s, failOn: models.JobDone} }},
		{"panic", func(s *gormrepository.Store) *flakyRepo { return &flakyRepo{Store: s, panicOn: models.JobDone} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			src := connector.NewStaticSource("static").Add("A", connector.RawTick{OurPrice: price("10")})
			c, _, rec := newHarness(t, tc.repo(store), src)
			ctx := context.Background()

			job, err := c.RunJob(ctx, protocol.FetchRequest{RequestID: "r-" + tc.name, SKU: "A", Sources: []string{"static"}})
			require.Error(t, err)
			require.NotNil(t, job)

			got, err := store.GetIngestionJob(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, models.JobFailed, got.Status)
			require.NotNil(t, got.Error)
			require.Equal(t, []string{"ack:QUEUED", "ack:RUNNING", "ack:FAILED"}, rec.statuses("r-"+tc.name))
		})
	}
}

func TestJobTotalityUnderRandomSourceFailures(t *testing.T) {
	store := newStore(t)
	var calls int64
	flaky := &funcSource{name: "flaky", fn: func(ctx context.Context, target connector.Target) ([]connector.RawTick, error) {
		n := atomic.AddInt64(&calls, 1)
		switch n % 3 {
		case 0:
			return nil, errors.New("timeout")
		case 1:
			panic("bad parser")
		default:
			return []connector.RawTick{{OurPrice: price("5")}}, nil
		}
	}}
	c, _, _ := newHarness(t, store, flaky)
	pool := worker.New(3, 32, nil)
	c.Pool = pool
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, c.HandleFetchRequest(ctx, protocol.FetchRequest{
			RequestID: fmt.Sprintf("req-%d", i),
			SKU:       "A",
			Sources:   []string{"flaky"},
			URLs:      []string{"u1", "u2"},
		}))
	}
	pool.Stop()

	jobs, err := store.ListIngestionJobs(ctx, repository.ListIngestionJobsParams{Limit: 100})
	require.NoError(t, err)
	require.Len(t, jobs, 12)
	for _, j := range jobs {
		require.True(t, models.IsTerminalJobStatus(j.Status), "job %s stuck in %s", j.ID, j.Status)
	}
}

type funcSource struct {
	name string
	fn   func(ctx context.Context, target connector.Target) ([]connector.RawTick, error)
}

func (s *funcSource) Name() string { return s.name }

func (s *funcSource) Fetch(ctx context.Context, target connector.Target) ([]connector.RawTick, error) {
	return s.fn(ctx, target)
}

func TestRunJobUsesInjectedClock(t *testing.T) {
	store := newStore(t)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c, _, _ := newHarness(t, store)
	c.Now = func() time.Time { return fixed }
	c.NewID = func() string { return "job-fixed" }
	job, err := c.RunJob(context.Background(), protocol.FetchRequest{RequestID: "clock", SKU: "A"})
	require.NoError(t, err)
	require.Equal(t, "job-fixed", job.ID)
	got, err := store.GetIngestionJob(context.Background(), "job-fixed")
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(fixed))
	require.Equal(t, models.JobDone, got.Status)
}

type flakySubmitter struct {
	mu    sync.Mutex
	calls int
	pool  *worker.Pool
}

func (s *flakySubmitter) Submit(ctx context.Context, name string, fn worker.Task) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n == 1 {
		return worker.ErrQueueClosed
	}
	return s.pool.Submit(ctx, name, fn)
}

func TestFetchRequestRedeliveredAfterSubmitFailure(t *testing.T) {
	store := newStore(t)
	src := connector.NewStaticSource("static").Add("A", connector.RawTick{OurPrice: price("10")})
	c, _, rec := newHarness(t, store, src)
	pool := worker.New(1, 4, nil)
	c.Pool = &flakySubmitter{pool: pool}
	ctx := context.Background()

	req := protocol.FetchRequest{RequestID: "retry-me", SKU: "A", Sources: []string{"static"}}
	err := c.HandleFetchRequest(ctx, req)
	require.ErrorIs(t, err, worker.ErrQueueClosed)

	require.NoError(t, c.HandleFetchRequest(ctx, req))
	pool.Stop()

	jobs, err := store.ListIngestionJobs(ctx, repository.ListIngestionJobsParams{RequestID: &req.RequestID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, models.JobDone, jobs[0].Status)
	require.Equal(t, []string{"ack:QUEUED", "ack:RUNNING", "done:1"}, rec.statuses("retry-me"))
}

// tickDropper fails MarketTick publishes and forwards everything else.
type tickDropper struct {
	next Publisher
}

func (p tickDropper) Publish(ctx context.Context, msg protocol.Message) error {
	if _, ok := msg.(protocol.MarketTick); ok {
		return errors.New("journal unavailable")
	}
	return p.next.Publish(ctx, msg)
}

func TestStoredTickCountedWhenPublishFails(t *testing.T) {
	store := newStore(t)
	src := connector.NewStaticSource("static").Add("A",
		connector.RawTick{OurPrice: price("10")},
		connector.RawTick{OurPrice: price("11")},
	)
	c, b, rec := newHarness(t, store, src)
	c.Bus = tickDropper{next: b}
	ctx := context.Background()

	_, err := c.IngestTick(ctx, connector.RawTick{SKU: "B", OurPrice: price("1")})
	require.ErrorIs(t, err, ErrPublish)

	job, err := c.RunJob(ctx, protocol.FetchRequest{RequestID: "np", SKU: "A", Sources: []string{"static"}})
	require.NoError(t, err)
	require.Equal(t, 2, job.TickCount)

	rows, err := store.ListRecentTicks(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got, err := store.GetIngestionJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.TickCount)
	require.Equal(t, []string{"ack:QUEUED", "ack:RUNNING", "done:2"}, rec.statuses("np"))
	require.Equal(t, 0, rec.ticks())
}
