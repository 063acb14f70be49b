package mempool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// Deduper remembers the most recent hashes up to a fixed capacity.
type Deduper struct {
	seen *lru.Cache
}

func NewDeduper(capacity int) (*Deduper, error) {
	seen, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup set: %w", err)
	}
	return &Deduper{seen: seen}, nil
}

// Add records hash and reports whether it was new. Test and insert happen
// under one lock.
func (d *Deduper) Add(hash common.Hash) bool {
	found, _ := d.seen.ContainsOrAdd(hash, struct{}{})
	return !found
}

func (d *Deduper) Len() int {
	return d.seen.Len()
}
