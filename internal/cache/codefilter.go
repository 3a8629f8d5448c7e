package cache

import (
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	codeFilterMinCapacity = 4096
	codeFilterFPR         = 0.01
)

// CodeFilter answers "might this coupon code exist?" without a store
// round trip, so bogus codes are rejected before they cost a query.
// False positives fall through to the store; codes present at the last
// rebuild or added since can never test negative. Before the first
// rebuild every lookup passes.
type CodeFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCodeFilter returns an unbuilt filter that admits everything.
func NewCodeFilter() *CodeFilter {
	return &CodeFilter{}
}

// Rebuild replaces the filter with one sized for the given codes, with
// headroom for codes added before the next rebuild.
func (f *CodeFilter) Rebuild(codes []string) {
	capacity := uint(len(codes)) * 2
	if capacity < codeFilterMinCapacity {
		capacity = codeFilterMinCapacity
	}
	filter := bloom.NewWithEstimates(capacity, codeFilterFPR)
	for _, code := range codes {
		filter.AddString(normalizeCode(code))
	}

	f.mu.Lock()
	f.filter = filter
	f.mu.Unlock()
}

// Add registers a newly created code without waiting for a rebuild.
func (f *CodeFilter) Add(code string) {
	f.mu.Lock()
	if f.filter != nil {
		f.filter.AddString(normalizeCode(code))
	}
	f.mu.Unlock()
}

// MightContain reports whether the code could belong to a live offer.
func (f *CodeFilter) MightContain(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.filter == nil {
		return true
	}
	return f.filter.TestString(normalizeCode(code))
}

// Codes are matched case-insensitively everywhere, so the filter
// indexes their canonical form.
func normalizeCode(code string) string {
	return strings.ToUpper(code)
}
