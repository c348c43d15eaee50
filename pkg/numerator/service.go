// Package numerator provides gap-tolerant monotonic counters over a
// reservation backend.
package numerator

import (
	"context"
	"fmt"
	"sync"
)

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict reserves one number per call.
	// Guarantees sequential numbers without gaps within one backend.
	StrategyStrict Strategy = iota

	// StrategyCached reserves ranges of numbers in memory.
	// Much faster, but may produce gaps if the process restarts.
	StrategyCached
)

// Options configuration for number generation.
type Options struct {
	// Strategy to use for number generation
	Strategy Strategy
	// RangeSize is the number of values to reserve at once in Cached strategy.
	// Default is 50.
	RangeSize int64
}

// DefaultOptions returns standard options (Strict).
func DefaultOptions() *Options {
	return &Options{
		Strategy: StrategyStrict,
	}
}

// Floor returns the value a counter starts after when it does not exist yet.
type Floor func(ctx context.Context) (int64, error)

// Sequence is the reservation backend.
type Sequence interface {
	// Reserve advances the counter under key by n and returns its new value.
	// A missing counter is created at floor(ctx) first.
	Reserve(ctx context.Context, key string, n int64, floor Floor) (int64, error)
}

type cachedRange struct {
	current int64
	max     int64
}

// Service hands out numbers per key.
type Service struct {
	seq  Sequence
	opts Options

	// cacheMu protects ranges map
	cacheMu sync.Mutex
	ranges  map[string]*cachedRange
}

// New creates a numerator over seq. nil opts selects Strict.
func New(seq Sequence, opts *Options) *Service {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Service{
		seq:    seq,
		opts:   *opts,
		ranges: make(map[string]*cachedRange),
	}
}

// Next returns the next number for key.
func (s *Service) Next(ctx context.Context, key string, floor Floor) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("numerator service is not initialized")
	}
	switch s.opts.Strategy {
	case StrategyCached:
		return s.nextCached(ctx, key, floor)
	default:
		num, err := s.seq.Reserve(ctx, key, 1, floor)
		if err != nil {
			return 0, fmt.Errorf("strict next: %w", err)
		}
		return num, nil
	}
}

// nextCached serves from memory, refilling from the backend when the range is spent.
func (s *Service) nextCached(ctx context.Context, key string, floor Floor) (int64, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, exists := s.ranges[key]
	if !exists {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		size := s.opts.RangeSize
		if size <= 0 {
			size = 50
		}
		newMax, err := s.seq.Reserve(ctx, key, size, floor)
		if err != nil {
			return 0, fmt.Errorf("reserve range: %w", err)
		}
		// The reserved range is (newMax-size, newMax].
		rng.current = newMax - size
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}

// Reset drops the cached range of key.
func (s *Service) Reset(key string) {
	s.cacheMu.Lock()
	delete(s.ranges, key)
	s.cacheMu.Unlock()
}
