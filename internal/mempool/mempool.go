package mempool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/internal/types"
	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Mempool holds pending transactions keyed by hash plus a FIFO queue, and a
// parallel testimony index. The queue keeps every non-Initial transaction
// ahead of the Initial bootstrap backlog so real work is never gated behind
// it.
type Mempool struct {
	mu sync.Mutex

	txs   map[hash.H256]*types.Transaction
	queue []hash.H256

	testimonies map[hash.H256]*types.Testimony // testimony hash -> testimony
	txToTmy     map[hash.H256]hash.H256        // tx hash -> testimony hash

	logger *zap.Logger
}

// New creates an empty mempool.
func New(logger *zap.Logger) *Mempool {
	return &Mempool{
		txs:         make(map[hash.H256]*types.Transaction),
		testimonies: make(map[hash.H256]*types.Testimony),
		txToTmy:     make(map[hash.H256]hash.H256),
		logger:      logger,
	}
}

// Len is the number of queued transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Has reports whether the transaction is pending.
func (m *Mempool) Has(txHash hash.H256) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.txs[txHash]
	return ok
}

// Get returns a pending transaction.
func (m *Mempool) Get(txHash hash.H256) (*types.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txHash]
	return tx, ok
}

// Insert enqueues tx. Initial transactions go to the back; anything else is
// placed after the queued non-Initial transactions but before any Initial
// ones. Duplicate hashes are rejected.
func (m *Mempool) Insert(tx *types.Transaction) bool {
	txHash := tx.Hash()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[txHash]; ok {
		return false
	}
	m.txs[txHash] = tx
	if tx.Flag == types.FlagInitial {
		m.queue = append(m.queue, txHash)
		return true
	}
	cut := len(m.queue)
	for i, h := range m.queue {
		if m.txs[h].Flag == types.FlagInitial {
			cut = i
			break
		}
	}
	next := make([]hash.H256, 0, len(m.queue)+1)
	next = append(next, m.queue[:cut]...)
	next = append(next, txHash)
	next = append(next, m.queue[cut:]...)
	m.queue = next
	return true
}

// PopOne dequeues the front transaction together with its testimony, if
// one is indexed. Returns nil when the pool is empty.
func (m *Mempool) PopOne() (*types.Transaction, *types.Testimony) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, nil
	}
	txHash := m.queue[0]
	m.queue = m.queue[1:]
	tx := m.txs[txHash]
	delete(m.txs, txHash)

	var tmy *types.Testimony
	if tmyHash, ok := m.txToTmy[txHash]; ok {
		tmy = m.testimonies[tmyHash]
		delete(m.testimonies, tmyHash)
		delete(m.txToTmy, txHash)
	}
	return tx, tmy
}

// Delete drops the given transactions wherever they sit in the queue.
func (m *Mempool) Delete(txHashes []hash.H256) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[hash.H256]bool, len(txHashes))
	for _, h := range txHashes {
		if _, ok := m.txs[h]; ok {
			drop[h] = true
			delete(m.txs, h)
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := m.queue[:0]
	for _, h := range m.queue {
		if !drop[h] {
			kept = append(kept, h)
		}
	}
	m.queue = kept
}

// AddTestimony indexes tmy under its transaction hash. If a testimony for
// the same transaction is already present, the unit sets are merged.
// Returns true when an existing testimony was extended.
func (m *Mempool) AddTestimony(tmy *types.Testimony) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	txHash := tmy.TxHash
	merged := tmy
	updated := false
	if oldHash, ok := m.txToTmy[txHash]; ok {
		old := m.testimonies[oldHash]
		merged = old.Merge(tmy)
		if merged.Hash() != old.Hash() {
			updated = true
		}
		delete(m.testimonies, oldHash)
	}
	m.testimonies[merged.Hash()] = merged
	m.txToTmy[txHash] = merged.Hash()
	return updated
}

// RemoveTestimony drops a testimony by its own hash.
func (m *Mempool) RemoveTestimony(tmyHash hash.H256) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.testimonies, tmyHash)
	for tx, h := range m.txToTmy {
		if h == tmyHash {
			delete(m.txToTmy, tx)
		}
	}
}

// TestimonyByTx returns the testimony indexed for a transaction.
func (m *Mempool) TestimonyByTx(txHash hash.H256) (*types.Testimony, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmyHash, ok := m.txToTmy[txHash]
	if !ok {
		return nil, false
	}
	tmy, ok := m.testimonies[tmyHash]
	return tmy, ok
}

// Testimony returns a testimony by its own hash.
func (m *Mempool) Testimony(tmyHash hash.H256) (*types.Testimony, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmy, ok := m.testimonies[tmyHash]
	return tmy, ok
}

// AllTxHashes snapshots the pending transaction hashes in queue order.
func (m *Mempool) AllTxHashes() []hash.H256 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hash.H256(nil), m.queue...)
}
