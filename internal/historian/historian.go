// internal/historian/historian.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Queue is the part of a Redis client the historian reads from.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Store persists audit records.
type Store interface {
	WriteBatch(ctx context.Context, recs []models.AuditRecord) error
	MarkAbandoned(ctx context.Context, gameID string) error
}

type Config struct {
	QueueName  string
	BatchSize  int
	FlushDelay time.Duration
	// Inactivity is how long a game may go without records before it is
	// marked abandoned.
	Inactivity   time.Duration
	SweepEvery   time.Duration
	PopTimeout   time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueName:    "tablesync_actions",
		BatchSize:    20,
		FlushDelay:   500 * time.Millisecond,
		Inactivity:   10 * time.Minute,
		SweepEvery:   time.Minute,
		PopTimeout:   3 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Service drains the audit queue into the store in batches. A batch is
// written when it reaches BatchSize or when FlushDelay passes, whichever is
// first.
type Service struct {
	cfg    Config
	queue  Queue
	store  Store
	logger *logrus.Logger

	now          func() time.Time
	batch        []models.AuditRecord
	lastActivity map[string]time.Time
}

func NewService(cfg Config, queue Queue, store Store, logger *logrus.Logger) *Service {
	return &Service{
		cfg:          cfg,
		queue:        queue,
		store:        store,
		logger:       logger,
		now:          time.Now,
		batch:        make([]models.AuditRecord, 0, cfg.BatchSize),
		lastActivity: make(map[string]time.Time),
	}
}

// Run pops until ctx ends, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	records := make(chan models.AuditRecord, s.cfg.BatchSize)
	popDone := make(chan struct{})
	go func() {
		defer close(popDone)
		s.popLoop(ctx, records)
	}()

	flush := time.NewTicker(s.cfg.FlushDelay)
	defer flush.Stop()
	sweep := time.NewTicker(s.cfg.SweepEvery)
	defer sweep.Stop()

	s.logger.Infof("Historian draining %q", s.cfg.QueueName)
	for {
		select {
		case <-ctx.Done():
			s.drain(records, popDone)
			s.flush(context.Background())
			s.logger.Info("Historian stopped")
			return nil
		case rec := <-records:
			s.add(rec)
			if len(s.batch) >= s.cfg.BatchSize {
				s.flush(ctx)
			}
		case <-flush.C:
			s.flush(ctx)
		case <-sweep.C:
			s.sweep(ctx)
		}
	}
}

// drain batches whatever the pop loop still hands over while it stops.
func (s *Service) drain(records <-chan models.AuditRecord, popDone <-chan struct{}) {
	for {
		select {
		case rec := <-records:
			s.add(rec)
		case <-popDone:
			for len(records) > 0 {
				s.add(<-records)
			}
			return
		}
	}
}

func (s *Service) popLoop(ctx context.Context, out chan<- models.AuditRecord) {
	for ctx.Err() == nil {
		res, err := s.queue.BLPop(ctx, s.cfg.PopTimeout, s.cfg.QueueName).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.logger.Errorf("BLPop: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload
		if len(res) < 2 {
			continue
		}
		rec, err := Decode([]byte(res[1]))
		if err != nil {
			s.logger.Warnf("Invalid audit record: %v", err)
			continue
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			// the record is handed over on shutdown instead
			out <- rec
			return
		}
	}
}

// Decode parses one queued record.
func Decode(raw []byte) (models.AuditRecord, error) {
	var rec models.AuditRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	if rec.GameID == "" {
		return rec, errors.New("record has no game_id")
	}
	return rec, nil
}

func (s *Service) add(rec models.AuditRecord) {
	s.batch = append(s.batch, rec)
	if rec.ActionType == models.AuditGameEnd {
		delete(s.lastActivity, rec.GameID)
	} else {
		s.lastActivity[rec.GameID] = s.now()
	}
}

// flush writes the current batch. A failed batch is logged and dropped; the
// audit trail is best effort.
func (s *Service) flush(ctx context.Context) {
	if len(s.batch) == 0 {
		return
	}
	batch := make([]models.AuditRecord, len(s.batch))
	copy(batch, s.batch)
	s.batch = s.batch[:0]

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.store.WriteBatch(wctx, batch); err != nil {
		s.logger.Errorf("Failed to write %d audit records: %v", len(batch), err)
		return
	}
	s.logger.Debugf("Flushed %d audit records", len(batch))
}

// sweep marks games that went quiet as abandoned.
func (s *Service) sweep(ctx context.Context) {
	now := s.now()
	for gameID, last := range s.lastActivity {
		if now.Sub(last) <= s.cfg.Inactivity {
			continue
		}
		delete(s.lastActivity, gameID)
		if err := s.store.MarkAbandoned(ctx, gameID); err != nil {
			s.logger.Errorf("Failed to mark game %s abandoned: %v", gameID, err)
			continue
		}
		s.logger.Infof("Marked game %s abandoned after %v without activity", gameID, s.cfg.Inactivity)
	}
}
