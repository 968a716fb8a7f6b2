package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wapipe/internal/models"
)

// Processor handles one claimed payload. A nil return completes the job;
// an error schedules a retry.
type Processor interface {
	ProcessPayload(ctx context.Context, payload []byte) error
}

// Archiver receives jobs that exhausted their retries. Archival is
// best-effort; the dead row in the database remains the source of truth.
type Archiver interface {
	ArchiveJob(ctx context.Context, job *models.WebhookJob) error
}

const (
	defaultPollInterval = 500 * time.Millisecond
	claimBatchSize      = 64
	staleClaimCutoff    = 5 * time.Minute
)

// Dispatcher polls the job store and fans claimed jobs out to a fixed set
// of partition workers. Jobs sharing an ordering key land on the same
// partition and run serially in claim order; distinct keys run in parallel.
type Dispatcher struct {
	store          *Store
	processor      Processor
	archiver       Archiver
	partitions     []chan models.WebhookJob
	pollInterval   time.Duration
	attemptTimeout time.Duration

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func NewDispatcher(store *Store, processor Processor, archiver Archiver, workers int, pollInterval, attemptTimeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	parts := make([]chan models.WebhookJob, workers)
	for i := range parts {
		parts[i] = make(chan models.WebhookJob, claimBatchSize)
	}
	return &Dispatcher{
		store:          store,
		processor:      processor,
		archiver:       archiver,
		partitions:     parts,
		pollInterval:   pollInterval,
		attemptTimeout: attemptTimeout,
		stop:           make(chan struct{}),
	}
}

// Start launches the partition workers and the poll loop.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.partitions {
		d.wg.Add(1)
		go d.worker(ctx, i, ch)
	}
	d.wg.Add(1)
	go d.pollLoop(ctx)
	log.Info().Int("partitions", len(d.partitions)).Msg("Webhook dispatcher started")
}

// Stop drains the poll loop and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()
	defer func() {
		for _, ch := range d.partitions {
			close(ch)
		}
	}()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	stale := time.NewTicker(time.Minute)
	defer stale.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-stale.C:
			if n, err := d.store.ReleaseStale(ctx, staleClaimCutoff); err != nil {
				log.Error().Err(err).Msg("Failed to release stale jobs")
			} else if n > 0 {
				log.Warn().Int64("jobs", n).Msg("Released stale processing jobs")
			}
		case <-ticker.C:
			jobs, err := d.store.Claim(ctx, claimBatchSize)
			if err != nil {
				log.Error().Err(err).Msg("Failed to claim webhook jobs")
				continue
			}
			for _, job := range jobs {
				select {
				case d.partitions[d.partition(job.OrderingKey)] <- job:
				case <-d.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (d *Dispatcher) partition(orderingKey string) int {
	h := fnv.New32a()
	h.Write([]byte(orderingKey))
	return int(h.Sum32() % uint32(len(d.partitions)))
}

func (d *Dispatcher) worker(ctx context.Context, id int, jobs <-chan models.WebhookJob) {
	defer d.wg.Done()
	for job := range jobs {
		d.runJob(ctx, id, job)
	}
}

func (d *Dispatcher) runJob(ctx context.Context, partition int, job models.WebhookJob) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	err := d.safeProcess(attemptCtx, job.Payload)
	if err == nil {
		if err := d.store.Complete(ctx, job.ID); err != nil {
			log.Error().Err(err).Int64("jobID", job.ID).Msg("Failed to complete job")
		}
		return
	}

	log.Warn().Err(err).
		Int64("jobID", job.ID).
		Int("partition", partition).
		Int("attempt", job.Attempts+1).
		Msg("Webhook job attempt failed")

	dead, failErr := d.store.Fail(ctx, &job, err)
	if failErr != nil {
		log.Error().Err(failErr).Int64("jobID", job.ID).Msg("Failed to record job failure")
		return
	}
	if dead {
		log.Error().Int64("jobID", job.ID).Str("orderingKey", job.OrderingKey).Msg("Webhook job dead after final attempt")
		if d.archiver != nil {
			job.Attempts++
			job.Status = models.JobDead
			if err := d.archiver.ArchiveJob(ctx, &job); err != nil {
				log.Error().Err(err).Int64("jobID", job.ID).Msg("Failed to archive dead job")
			}
		}
	}
}

// safeProcess converts processor panics into retryable errors so one bad
// payload cannot take down a partition worker.
func (d *Dispatcher) safeProcess(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return d.processor.ProcessPayload(ctx, payload)
}
