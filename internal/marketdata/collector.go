// Package marketdata turns raw tick source output into persisted ticks and
// drives the ingestion job lifecycle for fetch requests.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pricegov/internal/bus"
	"pricegov/internal/connector"
	"pricegov/internal/dedup"
	"pricegov/internal/metrics"
	"pricegov/internal/models"
	"pricegov/internal/protocol"
	"pricegov/internal/repository"
	"pricegov/internal/worker"
)

const (
	DefaultMarket = "DEFAULT"
	UnknownSource = "unknown"
)

var (
	ErrMissingField = errors.New("missing required field")
	// ErrPublish means the tick was persisted but its MarketTick broadcast failed.
	ErrPublish = errors.New("publish tick")
)

type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

type Submitter interface {
	Submit(ctx context.Context, name string, fn worker.Task) error
}

// Collector persists ticks and runs fetch requests as ingestion jobs. With a
// nil Pool jobs run on the caller's goroutine.
type Collector struct {
	Repo    repository.MarketDataRepository
	Bus     Publisher
	Pool    Submitter
	Sources *connector.Registry
	Dedup   dedup.Store
	Logger  *zap.Logger

	Now   func() time.Time
	NewID func() string
}

// Attach subscribes the collector to fetch requests.
func (c *Collector) Attach(b *bus.Bus) {
	if c == nil || b == nil {
		return
	}
	b.Subscribe(protocol.TopicFetchRequest, func(ctx context.Context, msg protocol.Message) error {
		req, ok := msg.(protocol.FetchRequest)
		if !ok {
			return fmt.Errorf("unexpected message %T", msg)
		}
		return c.HandleFetchRequest(ctx, req)
	})
}

// IngestTick validates and persists one raw tick, then publishes it.
func (c *Collector) IngestTick(ctx context.Context, raw connector.RawTick) (protocol.MarketTick, error) {
	sku := strings.TrimSpace(raw.SKU)
	if sku == "" {
		return protocol.MarketTick{}, fmt.Errorf("%w: sku", ErrMissingField)
	}
	if raw.OurPrice == nil {
		return protocol.MarketTick{}, fmt.Errorf("%w: our_price", ErrMissingField)
	}
	now := c.now()
	tick := protocol.MarketTick{
		SKU:             sku,
		Market:          firstNonEmpty(raw.Market, DefaultMarket),
		OurPrice:        *raw.OurPrice,
		CompetitorPrice: raw.CompetitorPrice,
		DemandIndex:     raw.DemandIndex,
		TS:              now,
		Source:          firstNonEmpty(raw.Source, UnknownSource),
	}
	if raw.TS != nil && !raw.TS.IsZero() {
		tick.TS = raw.TS.UTC()
	}

	if c.Repo != nil {
		row := &models.Tick{
			SKU:             tick.SKU,
			Market:          tick.Market,
			OurPrice:        tick.OurPrice,
			CompetitorPrice: tick.CompetitorPrice,
			DemandIndex:     tick.DemandIndex,
			TS:              tick.TS,
			Source:          tick.Source,
			IngestedAt:      now,
		}
		if err := c.Repo.InsertTick(ctx, row); err != nil {
			return protocol.MarketTick{}, fmt.Errorf("insert tick: %w", err)
		}
	}
	metrics.TicksIngested.WithLabelValues(tick.Source).Inc()

	if c.Bus != nil {
		if err := c.Bus.Publish(ctx, tick); err != nil {
			return tick, fmt.Errorf("%w: %w", ErrPublish, err)
		}
	}
	return tick, nil
}

// HandleFetchRequest starts one job per request_id. Repeats are dropped.
func (c *Collector) HandleFetchRequest(ctx context.Context, req protocol.FetchRequest) error {
	if c == nil {
		return nil
	}
	id := strings.TrimSpace(req.RequestID)
	if id == "" {
		return fmt.Errorf("%w: request_id", ErrMissingField)
	}
	if c.Dedup != nil {
		first, err := c.Dedup.Mark(ctx, id)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", id, err)
		}
		if !first {
			c.logger().Debug("fetch request: duplicate dropped", zap.String("request_id", id))
			return nil
		}
	}

	if c.Pool == nil {
		job, err := c.RunJob(ctx, req)
		if err != nil && job == nil {
			c.release(ctx, id)
		}
		return err
	}
	if err := c.Pool.Submit(ctx, "fetch:"+id, func(taskCtx context.Context) {
		if job, err := c.RunJob(taskCtx, req); err != nil && job == nil {
			c.release(taskCtx, id)
		}
	}); err != nil {
		c.release(ctx, id)
		return fmt.Errorf("submit %s: %w", id, err)
	}
	return nil
}

// release drops the dedup mark of a request that never got a job row, so a
// redelivery starts it.
func (c *Collector) release(ctx context.Context, id string) {
	if c.Dedup == nil {
		return
	}
	if err := c.Dedup.Forget(context.WithoutCancel(ctx), id); err != nil {
		c.logger().Error("fetch request: release dedup mark", zap.String("request_id", id), zap.Error(err))
	}
}

// RunJob executes a fetch request synchronously. Once the job row exists it
// always ends DONE or FAILED.
func (c *Collector) RunJob(ctx context.Context, req protocol.FetchRequest) (job *models.IngestionJob, err error) {
	log := c.logger().With(zap.String("request_id", req.RequestID), zap.String("sku", req.SKU))
	job = &models.IngestionJob{
		ID:        c.newID(),
		RequestID: req.RequestID,
		SKU:       strings.TrimSpace(req.SKU),
		Market:    firstNonEmpty(req.Market, DefaultMarket),
		Connector: strings.Join(req.Sources, ","),
		Depth:     req.Depth,
		Status:    models.JobQueued,
		CreatedAt: c.now(),
	}
	if c.Repo != nil {
		if err := c.Repo.CreateIngestionJob(ctx, job); err != nil {
			log.Error("fetch job: create failed", zap.Error(err))
			return nil, fmt.Errorf("create job: %w", err)
		}
	}
	log = log.With(zap.String("job_id", job.ID))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			c.fail(ctx, log, job, err)
		}
	}()

	if err := c.ack(ctx, job, models.JobQueued, ""); err != nil {
		c.fail(ctx, log, job, err)
		return job, err
	}
	if err := c.transition(ctx, job, repository.JobTransition{Status: models.JobRunning}); err != nil {
		c.fail(ctx, log, job, err)
		return job, err
	}
	if err := c.ack(ctx, job, models.JobRunning, ""); err != nil {
		c.fail(ctx, log, job, err)
		return job, err
	}

	count := c.collect(ctx, log, req, job)

	if err := c.transition(ctx, job, repository.JobTransition{Status: models.JobDone, TickCount: &count}); err != nil {
		c.fail(ctx, log, job, err)
		return job, err
	}
	job.TickCount = count
	metrics.IngestionJobs.WithLabelValues(models.JobDone).Inc()
	log.Info("fetch job: done", zap.Int("tick_count", count))
	if c.Bus != nil {
		done := protocol.FetchDone{RequestID: req.RequestID, JobID: job.ID, Status: models.JobDone, TickCount: count}
		if err := c.Bus.Publish(ctx, done); err != nil {
			log.Warn("fetch job: publish done failed", zap.Error(err))
		}
	}
	return job, nil
}

// collect runs every source over every URL. Failures are per source and never
// abort the job.
func (c *Collector) collect(ctx context.Context, log *zap.Logger, req protocol.FetchRequest, job *models.IngestionJob) int {
	urls := req.URLs
	if len(urls) == 0 {
		urls = []string{""}
	}
	count := 0
	for _, name := range req.Sources {
		src, ok := c.Sources.Get(name)
		if !ok {
			log.Warn("fetch job: unknown source", zap.String("source", name))
			continue
		}
		for _, u := range urls {
			target := connector.Target{
				SKU:            job.SKU,
				Market:         job.Market,
				URL:            u,
				Depth:          req.Depth,
				HorizonMinutes: req.HorizonMinutes,
			}
			ticks, err := fetchSafe(ctx, src, target)
			if err != nil {
				log.Warn("fetch job: source failed", zap.String("source", name), zap.String("url", u), zap.Error(err))
				continue
			}
			for _, raw := range ticks {
				if _, err := c.IngestTick(ctx, raw); err != nil {
					if !errors.Is(err, ErrPublish) {
						log.Warn("fetch job: tick skipped", zap.String("source", name), zap.Error(err))
						continue
					}
					log.Warn("fetch job: tick stored, publish failed", zap.String("source", name), zap.Error(err))
				}
				count++
			}
		}
	}
	return count
}

func fetchSafe(ctx context.Context, src connector.TickSource, target connector.Target) (ticks []connector.RawTick, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panic: %v", r)
		}
	}()
	return src.Fetch(ctx, target)
}

func (c *Collector) transition(ctx context.Context, job *models.IngestionJob, t repository.JobTransition) error {
	if c.Repo == nil {
		job.Status = t.Status
		return nil
	}
	t.At = c.now()
	ok, err := c.Repo.TransitionIngestionJob(ctx, job.ID, t)
	if err != nil {
		return fmt.Errorf("mark %s: %w", t.Status, err)
	}
	if !ok {
		return fmt.Errorf("mark %s: job %s left %s", t.Status, job.ID, job.Status)
	}
	job.Status = t.Status
	return nil
}

func (c *Collector) ack(ctx context.Context, job *models.IngestionJob, status, errText string) error {
	if c.Bus == nil {
		return nil
	}
	return c.Bus.Publish(ctx, protocol.FetchAck{RequestID: job.RequestID, JobID: job.ID, Status: status, Error: errText})
}

func (c *Collector) fail(ctx context.Context, log *zap.Logger, job *models.IngestionJob, cause error) {
	msg := cause.Error()
	log.Error("fetch job: failed", zap.Error(cause))
	if err := c.transition(ctx, job, repository.JobTransition{Status: models.JobFailed, Error: &msg}); err != nil {
		log.Error("fetch job: mark failed", zap.Error(err))
	} else {
		job.Error = &msg
	}
	metrics.IngestionJobs.WithLabelValues(models.JobFailed).Inc()
	if err := c.ack(ctx, job, models.JobFailed, msg); err != nil {
		log.Warn("fetch job: publish failed ack", zap.Error(err))
	}
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Collector) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Collector) logger() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func firstNonEmpty(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}
