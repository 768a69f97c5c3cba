package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeFilter is a thread-safe Bloom filter over issued short codes.
// It answers "definitely unused" cheaply so most uniqueness probes never
// reach Redis or MySQL; a positive answer still needs confirmation there.
type CodeFilter struct {
	filter *bloom.BloomFilter
	mu     sync.RWMutex
}

// NewCodeFilter creates a filter sized for the expected number of codes
// and the acceptable false positive rate.
func NewCodeFilter(capacity uint, fpRate float64) *CodeFilter {
	return &CodeFilter{
		filter: bloom.NewWithEstimates(capacity, fpRate),
	}
}

// Add records a newly issued short code
func (f *CodeFilter) Add(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(code)
}

// MayExist reports whether code might already be issued.
// False means the code is definitely free.
func (f *CodeFilter) MayExist(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(code)
}

// Warm seeds the filter with existing codes, used at startup
func (f *CodeFilter) Warm(codes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range codes {
		f.filter.AddString(code)
	}
}
