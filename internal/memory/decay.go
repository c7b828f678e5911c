package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DecayConfig controls the pruning pass.
type DecayConfig struct {
	MaxAge        time.Duration // records not updated for this long are processed (default 30 days)
	ExpireBelow   int           // importance below which an old record is expired (default 4)
	PruneInterval time.Duration // how often the Pruner runs (default 24h)
}

// DefaultDecayConfig returns the standard pruning thresholds.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		MaxAge:        30 * 24 * time.Hour,
		ExpireBelow:   4,
		PruneInterval: 24 * time.Hour,
	}
}

// PruneResult summarizes one pruning pass.
type PruneResult struct {
	Processed int `json:"processed"`
	Expired   int `json:"expired"`
	Decayed   int `json:"decayed"`
}

// Prune processes every live record not updated since now-MaxAge: those below
// ExpireBelow importance are soft-deleted, the rest lose one point of
// importance (never below 1). updated_at is left untouched.
func (s *Store) Prune(ctx context.Context, now time.Time, cfg DecayConfig) (PruneResult, error) {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultDecayConfig().MaxAge
	}
	if cfg.ExpireBelow == 0 {
		cfg.ExpireBelow = DefaultDecayConfig().ExpireBelow
	}

	cutoff := now.Add(-cfg.MaxAge)
	old, err := s.Search(ctx, Filter{
		UpdatedBefore: cutoff,
		ActiveOnly:    true,
	})
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune memories: %w", err)
	}

	var res PruneResult
	for _, candidate := range old {
		rec, ok, err := s.decay(ctx, candidate.Type, candidate.Key, cutoff, cfg.ExpireBelow)
		if err != nil {
			return res, fmt.Errorf("prune memory %s/%s: %w", candidate.Type, candidate.Key, err)
		}
		if !ok {
			continue
		}
		if rec.IsExpired {
			res.Expired++
			s.reindex(ctx, rec)
		} else {
			res.Decayed++
		}
		res.Processed++
	}

	s.logger.Info("memory prune complete",
		zap.Int("processed", res.Processed),
		zap.Int("expired", res.Expired),
		zap.Int("decayed", res.Decayed))
	return res, nil
}

// decay applies one pruning step to the current copy of (typ, key). Records
// that were re-observed or expired since the candidate search are skipped.
func (s *Store) decay(ctx context.Context, typ Type, key string, cutoff time.Time, expireBelow int) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(ctx, typ, key)
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec := *cur
	if rec.IsExpired || !rec.UpdatedAt.Before(cutoff) {
		return rec, false, nil
	}
	if rec.Importance < expireBelow {
		rec.IsExpired = true
	} else {
		rec.Importance = clampImportance(rec.Importance - 1)
	}
	if err := s.update(ctx, rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// Pruner runs Store.Prune on a fixed interval in the background.
type Pruner struct {
	store  *Store
	cfg    DecayConfig
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	logger *zap.Logger
}

// NewPruner creates a pruner. Call Start to begin the loop.
func NewPruner(store *Store, cfg DecayConfig, logger *zap.Logger) *Pruner {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultDecayConfig().PruneInterval
	}
	return &Pruner{store: store, cfg: cfg, logger: logger}
}

// Start begins the prune loop in a background goroutine.
func (p *Pruner) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
	p.logger.Info("memory pruner started", zap.Duration("interval", p.cfg.PruneInterval))
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("memory pruner stopped")
}

// RunNow performs one pruning pass immediately.
func (p *Pruner) RunNow(ctx context.Context) (PruneResult, error) {
	return p.store.Prune(ctx, time.Now(), p.cfg)
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := p.RunNow(passCtx); err != nil {
				p.logger.Warn("memory prune failed", zap.Error(err))
			}
			cancel()
		}
	}
}
