// Package pricing converts a requested video shape into a credit cost.
package pricing

import (
	"fmt"
	"sort"

	"reelgen/internal/domain"
)

const (
	DefaultBlockSeconds       = 10
	DefaultMaxDurationSeconds = 60
)

// Pricer prices a generation request. Implementations must be pure.
type Pricer interface {
	Cost(format string, durationSeconds int) (int64, error)
}

// Table charges a per-format rate for every started block of seconds.
type Table struct {
	// Rates maps an aspect-ratio format to credits per block.
	Rates              map[string]int64
	BlockSeconds       int
	MaxDurationSeconds int
}

// DefaultTable prices every supported format at one credit per 10 second block.
func DefaultTable() Table {
	return Table{
		Rates: map[string]int64{
			"9:16": 1,
			"1:1":  1,
			"4:5":  1,
			"16:9": 1,
		},
		BlockSeconds:       DefaultBlockSeconds,
		MaxDurationSeconds: DefaultMaxDurationSeconds,
	}
}

func (t Table) Cost(format string, durationSeconds int) (int64, error) {
	rate, ok := t.Rates[format]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidInput, format)
	}
	maxDuration := t.MaxDurationSeconds
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDurationSeconds
	}
	if durationSeconds <= 0 || durationSeconds > maxDuration {
		return 0, fmt.Errorf("%w: duration must be between 1 and %d seconds", domain.ErrInvalidInput, maxDuration)
	}
	block := t.BlockSeconds
	if block <= 0 {
		block = DefaultBlockSeconds
	}
	blocks := (durationSeconds + block - 1) / block
	return int64(blocks) * rate, nil
}

// Formats lists the priced formats in lexical order.
func (t Table) Formats() []string {
	out := make([]string, 0, len(t.Rates))
	for f := range t.Rates {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

var _ Pricer = Table{}
