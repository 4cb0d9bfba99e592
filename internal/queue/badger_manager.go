package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ternarybob/bidharvest/internal/retry"
)

// claimRetries bounds how often Receive retries after a transaction conflict with
// another worker claiming at the same moment
const claimRetries = 5

// BadgerManager is a durable job queue on BadgerDB. The job id is the message id,
// which makes Enqueue idempotent while the job is live.
//
// Key layout:
//
//	queue:{name}:msg:{jobID}                          live entry (JSON)
//	queue:{name}:index:{visibleAt ns, 20 digits}:{id} visibility index
//	queue:{name}:done:{jobID}                         terminal history entry (JSON)
//	queue:{name}:hist:{state}:{finished ns}:{id}      history order, for trimming
type BadgerManager struct {
	db        *badger.DB
	config    Config
	now       func() time.Time
	onAbandon AbandonHandler
}

// AbandonHandler is told about a job the queue gave up on without a worker reporting
// back, so the owner of the job record can mark it terminal
type AbandonHandler func(ctx context.Context, h HistoryEntry)

// SetAbandonHandler registers fn for jobs abandoned after their last attempt
func (m *BadgerManager) SetAbandonHandler(fn AbandonHandler) {
	m.onAbandon = fn
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, config Config) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	def := NewDefaultConfig()
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = def.VisibilityTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = def.Backoff
	}

	return &BadgerManager{
		db:     db,
		config: config,
		now:    time.Now,
	}, nil
}

// Enqueue adds a job. A job id that is already queued, running or awaiting retry is
// rejected with ErrDuplicate; a job id with only terminal history is accepted again.
func (m *BadgerManager) Enqueue(ctx context.Context, msg Message) error {
	if msg.JobID == "" {
		return errors.New("job id is required")
	}
	now := m.now()
	e := entry{
		Message:    msg,
		EnqueuedAt: now,
		VisibleAt:  now,
		State:      StateQueued,
	}

	for i := 0; ; i++ {
		err := m.db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get(m.msgKey(msg.JobID)); err == nil {
				return ErrDuplicate
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			if err := m.dropHistory(txn, msg.JobID); err != nil {
				return err
			}
			return m.putEntry(txn, &e)
		})
		// A conflict means another writer touched this id; the retry sees its entry
		if !errors.Is(err, badger.ErrConflict) || i >= claimRetries {
			return err
		}
	}
}

// Receive claims the next visible message. The claim hides it for the visibility
// timeout; a worker that dies without Ack or Nack lets it reappear.
func (m *BadgerManager) Receive(ctx context.Context) (*Delivery, error) {
	for i := 0; i < claimRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		delivery, abandoned, err := m.claim()
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		m.abandon(ctx, abandoned)
		return delivery, err
	}
	return nil, ErrNoMessage
}

func (m *BadgerManager) abandon(ctx context.Context, abandoned []HistoryEntry) {
	if m.onAbandon == nil {
		return
	}
	for _, h := range abandoned {
		m.onAbandon(context.WithoutCancel(ctx), h)
	}
}

// claim takes the first ready entry with attempts left. Entries redelivered with none
// left are recorded failed in the same transaction and returned as abandoned.
func (m *BadgerManager) claim() (*Delivery, []HistoryEntry, error) {
	var claimed *entry
	var abandoned []HistoryEntry

	err := m.db.Update(func(txn *badger.Txn) error {
		now := m.now()
		ready := m.readyKeys(txn, now)

		// A RW transaction allows one open iterator, so writes happen after the scan
		for _, key := range ready {
			_, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			if err := txn.Delete(key); err != nil {
				return err
			}

			e, err := m.getEntry(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			if e.Attempts >= m.config.MaxAttempts {
				// Redelivered after a crash with no attempts left
				e.LastError = fmt.Sprintf("abandoned after %d attempts", e.Attempts)
				h, err := m.finish(txn, e, StateFailed)
				if err != nil {
					return err
				}
				abandoned = append(abandoned, h)
				continue
			}

			claimed = e
			break
		}

		// Returning nil keeps any abandonment writes when nothing was claimable
		if claimed == nil {
			return nil
		}

		claimed.Attempts++
		claimed.State = StateActive
		claimed.VisibleAt = now.Add(m.config.VisibilityTimeout)
		return m.putEntry(txn, claimed)
	})
	if err != nil {
		return nil, nil, err
	}
	if claimed == nil {
		return nil, abandoned, ErrNoMessage
	}

	return &Delivery{Message: claimed.Message, Attempt: claimed.Attempts}, abandoned, nil
}

// readyKeys returns index keys whose visibility time has passed, oldest first
func (m *BadgerManager) readyKeys(txn *badger.Txn, now time.Time) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := m.indexPrefix()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		ts, _, err := m.parseIndexKey(key)
		if err != nil {
			continue
		}
		if ts.After(now) {
			// Keys sort by visibility time; nothing later is ready either
			break
		}
		keys = append(keys, key)
	}
	return keys
}

// Ack records successful completion of a claimed job
func (m *BadgerManager) Ack(ctx context.Context, jobID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		e, err := m.getEntry(txn, jobID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := m.removeEntry(txn, e); err != nil {
			return err
		}
		e.LastError = ""
		_, err = m.finish(txn, e, StateCompleted)
		return err
	})
}

// Nack records a failed attempt. The job is rescheduled after an exponential backoff
// until MaxAttempts is reached, then recorded failed. It reports whether a retry was
// scheduled.
func (m *BadgerManager) Nack(ctx context.Context, jobID string, cause error) (bool, error) {
	retrying := false
	err := m.db.Update(func(txn *badger.Txn) error {
		e, err := m.getEntry(txn, jobID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cause != nil {
			e.LastError = cause.Error()
		}
		if err := m.removeEntry(txn, e); err != nil {
			return err
		}

		if e.Attempts >= m.config.MaxAttempts {
			_, err := m.finish(txn, e, StateFailed)
			return err
		}

		retrying = true
		e.State = StateRetrying
		e.VisibleAt = m.now().Add(retry.Backoff(e.Attempts-1, m.config.Backoff))
		return m.putEntry(txn, e)
	})
	return retrying, err
}

// Extend pushes a claimed message's visibility out by d from now
func (m *BadgerManager) Extend(ctx context.Context, jobID string, d time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		e, err := m.getEntry(txn, jobID)
		if err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(e.VisibleAt, jobID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e.VisibleAt = m.now().Add(d)
		return m.putEntry(txn, e)
	})
}

// Remove deletes a job that no worker has started. Active jobs return ErrNotRemovable.
func (m *BadgerManager) Remove(ctx context.Context, jobID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		e, err := m.getEntry(txn, jobID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrUnknownJob
		}
		if err != nil {
			return err
		}
		if e.State == StateActive {
			return ErrNotRemovable
		}
		return m.removeEntry(txn, e)
	})
}

// State returns the queue's view of a job: live state, else retained history
func (m *BadgerManager) State(ctx context.Context, jobID string) (State, error) {
	var state State
	err := m.db.View(func(txn *badger.Txn) error {
		e, err := m.getEntry(txn, jobID)
		if err == nil {
			state = e.State
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		item, err := txn.Get(m.doneKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrUnknownJob
		}
		if err != nil {
			return err
		}
		var h HistoryEntry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &h) }); err != nil {
			return err
		}
		state = h.State
		return nil
	})
	return state, err
}

// History returns retained terminal outcomes for state, newest first
func (m *BadgerManager) History(ctx context.Context, state State, limit int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := m.db.View(func(txn *badger.Txn) error {
		ids := m.historyIDs(txn, state)
		for i := len(ids) - 1; i >= 0; i-- {
			if limit > 0 && len(out) >= limit {
				break
			}
			item, err := txn.Get(m.doneKey(ids[i]))
			if err != nil {
				continue
			}
			var h HistoryEntry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &h) }); err != nil {
				return err
			}
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// Stats counts live messages by state plus retained history
func (m *BadgerManager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := m.db.View(func(txn *badger.Txn) error {
		if err := m.countLive(txn, &stats); err != nil {
			return err
		}
		stats.Completed = len(m.historyIDs(txn, StateCompleted))
		stats.Failed = len(m.historyIDs(txn, StateFailed))
		return nil
	})
	return stats, err
}

func (m *BadgerManager) countLive(txn *badger.Txn, stats *Stats) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := m.msgPrefix()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var e entry
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
			return err
		}
		switch e.State {
		case StateQueued:
			stats.Queued++
		case StateActive:
			stats.Active++
		case StateRetrying:
			stats.Retrying++
		}
	}
	return nil
}

// Close is a no-op; the DB is owned by the storage manager
func (m *BadgerManager) Close() error {
	return nil
}

// Helpers

func (m *BadgerManager) getEntry(txn *badger.Txn, id string) (*entry, error) {
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return nil, err
	}
	var e entry
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
		return nil, err
	}
	return &e, nil
}

func (m *BadgerManager) putEntry(txn *badger.Txn, e *entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	if err := txn.Set(m.msgKey(e.JobID), data); err != nil {
		return err
	}
	return txn.Set(m.indexKey(e.VisibleAt, e.JobID), []byte{})
}

func (m *BadgerManager) removeEntry(txn *badger.Txn, e *entry) error {
	if err := txn.Delete(m.indexKey(e.VisibleAt, e.JobID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Delete(m.msgKey(e.JobID))
}

// finish writes terminal history and trims it to the configured bound
func (m *BadgerManager) finish(txn *badger.Txn, e *entry, state State) (HistoryEntry, error) {
	h := HistoryEntry{
		Message:    e.Message,
		State:      state,
		Attempts:   e.Attempts,
		FinishedAt: m.now(),
		LastError:  e.LastError,
	}

	if err := txn.Delete(m.msgKey(e.JobID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return h, err
	}
	if err := m.dropHistory(txn, e.JobID); err != nil {
		return h, err
	}

	data, err := json.Marshal(h)
	if err != nil {
		return h, fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if err := txn.Set(m.doneKey(e.JobID), data); err != nil {
		return h, err
	}
	if err := txn.Set(m.histKey(state, h.FinishedAt, e.JobID), []byte{}); err != nil {
		return h, err
	}

	keep := m.config.KeepCompleted
	if state == StateFailed {
		keep = m.config.KeepFailed
	}
	return h, m.trimHistory(txn, state, keep)
}

func (m *BadgerManager) trimHistory(txn *badger.Txn, state State, keep int) error {
	keys := m.historyKeys(txn, state)
	for len(keys) > keep {
		key := keys[0]
		keys = keys[1:]
		id := key[bytes.LastIndexByte(key, ':')+1:]
		if err := txn.Delete(key); err != nil {
			return err
		}
		if err := txn.Delete(m.doneKey(string(id))); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}

// dropHistory forgets any terminal outcome for id
func (m *BadgerManager) dropHistory(txn *badger.Txn, id string) error {
	item, err := txn.Get(m.doneKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var h HistoryEntry
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &h) }); err != nil {
		return err
	}
	if err := txn.Delete(m.histKey(h.State, h.FinishedAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Delete(m.doneKey(id))
}

// historyKeys returns the ordering keys for state, oldest first
func (m *BadgerManager) historyKeys(txn *badger.Txn, state State) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(fmt.Sprintf("queue:%s:hist:%s:", m.config.QueueName, state))
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func (m *BadgerManager) historyIDs(txn *badger.Txn, state State) []string {
	keys := m.historyKeys(txn, state)
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = string(key[bytes.LastIndexByte(key, ':')+1:])
	}
	return ids
}

func (m *BadgerManager) msgPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:", m.config.QueueName))
}

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.config.QueueName, id))
}

func (m *BadgerManager) doneKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:done:%s", m.config.QueueName, id))
}

func (m *BadgerManager) histKey(state State, finishedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:hist:%s:%020d:%s", m.config.QueueName, state, finishedAt.UnixNano(), id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.config.QueueName))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.config.QueueName, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix)+21 {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}
	suffix := string(key[len(prefix):])

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
