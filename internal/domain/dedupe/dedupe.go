// Package dedupe recognises datasets that were already submitted, so an
// identical upload reuses the computed race instead of recomputing it.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"sync/atomic"

	"github.com/okian/barrace/internal/domain/model"
)

// Index maps dataset content digests to dataset ids.
type Index interface {
	// Claim atomically looks digest up and registers id under it if absent.
	// Returns the already registered id and true when digest was seen.
	Claim(ctx context.Context, digest, id string) (string, bool)

	// Release forgets digest, e.g. when its dataset was deleted or replaced.
	Release(ctx context.Context, digest string)

	Size() int64
}

// node is one registered digest; the list runs newest to oldest.
type node struct {
	digest string
	id     string
	next   *node
}

func (n *node) reset() {
	n.digest = ""
	n.id = ""
	n.next = nil
}

// inMemoryIndex is bounded when maxSize > 0: registering past the bound
// evicts the oldest digest. maxSize <= 0 keeps every digest.
type inMemoryIndex struct {
	mu       sync.Mutex
	byDigest map[string]*node
	head     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryIndex creates a new in-memory digest index with configuration options.
func NewInMemoryIndex(opts ...Option) Index {
	d := &inMemoryIndex{
		maxSize: 10_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.byDigest = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

func (d *inMemoryIndex) Claim(_ context.Context, digest, id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.byDigest[digest]; ok {
		return n.id, true
	}

	if d.maxSize > 0 && len(d.byDigest) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.digest = digest
	n.id = id
	n.next = d.head
	d.head = n
	d.byDigest[digest] = n
	d.size.Add(1)
	return id, false
}

func (d *inMemoryIndex) Release(_ context.Context, digest string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.byDigest[digest]
	if !ok {
		return
	}
	delete(d.byDigest, digest)

	if d.head == n {
		d.head = n.next
	} else {
		cur := d.head
		for cur != nil && cur.next != n {
			cur = cur.next
		}
		if cur != nil {
			cur.next = n.next
		}
	}
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// evictOldest drops the tail of the list. Must be called with d.mu held.
func (d *inMemoryIndex) evictOldest() {
	if d.head == nil {
		return
	}
	if d.head.next == nil {
		delete(d.byDigest, d.head.digest)
		d.head.reset()
		d.nodePool.Put(d.head)
		d.head = nil
		d.size.Add(-1)
		return
	}
	prev, cur := d.head, d.head.next
	for cur.next != nil {
		prev, cur = cur, cur.next
	}
	prev.next = nil
	delete(d.byDigest, cur.digest)
	cur.reset()
	d.nodePool.Put(cur)
	d.size.Add(-1)
}

func (d *inMemoryIndex) Size() int64 {
	return d.size.Load()
}

// Digest fingerprints rows together with the option string that shapes the
// race, so the same rows under different options are different datasets.
func Digest(rows []model.Row, options string) string {
	h := sha256.New()
	var buf [8]byte
	writeString := func(s string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(s))
	}
	writeString(options)
	for _, r := range rows {
		writeString(r.Date)
		writeString(r.Name)
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(r.Value))
		_, _ = h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
