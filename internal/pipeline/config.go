package pipeline

import (
	"fmt"
	"runtime"
	"time"

	"github.com/jwindhaber/async-csv/internal/chunk"
	"github.com/jwindhaber/async-csv/internal/parser/csv"
)

// Config is the immutable configuration of a Pipeline. Zero values are
// replaced by defaults in New.
type Config struct {
	// Job labels log lines and metrics.
	Job string

	// ChunkHint is the target chunk size in bytes.
	ChunkHint int64
	// ReadSize is the scanner's read granularity in bytes.
	ReadSize int

	// Workers is the parser pool size. Default: runtime.GOMAXPROCS(0).
	Workers int
	// QueueDepth bounds the dispatch queue between scanner and workers.
	// Default: Workers.
	QueueDepth int
	// MaxPending bounds the number of out-of-order parsed chunks the
	// reassembler may hold. Default: 2*Workers.
	MaxPending int

	// ChunkTimeout is the per-chunk parse budget; 0 disables it.
	ChunkTimeout time.Duration
	// StallAfter is how long delivery may wait on subscriber demand before
	// the stall is logged. Default: 5s.
	StallAfter time.Duration
	// HeartbeatEvery logs delivery progress every N records; 0 disables it.
	HeartbeatEvery int64

	// Parser configures field splitting.
	Parser csv.Options
}

// WithDefaults returns c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Job == "" {
		c.Job = "async-csv"
	}
	if c.ChunkHint <= 0 {
		c.ChunkHint = chunk.DefaultHint
	}
	if c.ReadSize <= 0 {
		c.ReadSize = chunk.DefaultReadSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = c.Workers
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 2 * c.Workers
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 5 * time.Second
	}
	c.Parser.Dialect = c.Parser.Dialect.WithDefaults()
	return c
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.ChunkTimeout < 0 {
		return fmt.Errorf("pipeline: negative chunk timeout %s", c.ChunkTimeout)
	}
	if c.HeartbeatEvery < 0 {
		return fmt.Errorf("pipeline: negative heartbeat interval %d", c.HeartbeatEvery)
	}
	return c.Parser.Dialect.Validate()
}
