// Package jobs records the progress of in-flight textbook generations.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketJobs = []byte("jobs")

var errReadOnly = errors.New("jobs db opened read-only")

// Progress is the state of one generation job.
type Progress struct {
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fraction is Current/Total, or 0 when Total is 0.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total)
}

// Observer is called after every progress write.
type Observer func(id string, p Progress)

// Store keeps one record per job in a bbolt file. The file is opened for the
// duration of each operation only, so other processes can read progress
// while a generation is running.
type Store struct {
	path     string
	readOnly bool
	mu       sync.Mutex
	observer Observer
}

// Open opens or creates the job file at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	err := s.update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens the job file for Get only. A missing file reads as
// having no jobs.
func OpenReadOnly(path string) *Store {
	return &Store{path: path, readOnly: true}
}

// Close exists for symmetry with other stores; no file is held between calls.
func (s *Store) Close() error { return nil }

// SetObserver registers fn to be notified of progress writes.
func (s *Store) SetObserver(fn Observer) { s.observer = fn }

// Start records a new job and returns its tracker.
func (s *Store) Start(id string, total int, message string) (*Tracker, error) {
	p := Progress{Total: total, Message: message}
	if err := s.put(id, p); err != nil {
		return nil, err
	}
	return &Tracker{store: s, id: id, progress: p}, nil
}

// Get returns the job's progress; ok is false when no job is recorded.
func (s *Store) Get(id string) (p Progress, ok bool, err error) {
	err = s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &p)
	})
	return p, ok, err
}

// Reset drops every recorded job. Jobs left by a previous process are stale.
func (s *Store) Reset() error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketJobs); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketJobs)
		return err
	})
}

func (s *Store) put(id string, p Progress) error {
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	err = s.update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketJobs)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save progress for %s: %w", id, err)
	}
	if s.observer != nil {
		s.observer(id, p)
	}
	return nil
}

func (s *Store) remove(id string) error {
	return s.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) view(fn func(*bbolt.Tx) error) error {
	if s.readOnly {
		if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}
	db, err := s.open(s.readOnly)
	if err != nil {
		return err
	}
	defer s.release(db)
	return db.View(fn)
}

func (s *Store) update(fn func(*bbolt.Tx) error) error {
	if s.readOnly {
		return errReadOnly
	}
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer s.release(db)
	return db.Update(fn)
}

// open takes the in-process lock and then the file lock, shared when
// readOnly is set.
func (s *Store) open(readOnly bool) (*bbolt.DB, error) {
	s.mu.Lock()
	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to open jobs db: %w", err)
	}
	return db, nil
}

func (s *Store) release(db *bbolt.DB) {
	db.Close()
	s.mu.Unlock()
}

// Tracker updates a single job. It is owned by the generation call.
type Tracker struct {
	store    *Store
	id       string
	mu       sync.Mutex
	progress Progress
	done     bool
}

// Step records current completed units and a message.
func (t *Tracker) Step(current int, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.progress.Current = current
	t.progress.Message = message
	return t.store.put(t.id, t.progress)
}

// Message updates the message without changing the count.
func (t *Tracker) Message(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.progress.Message = message
	return t.store.put(t.id, t.progress)
}

// Finish removes the job. Further updates are ignored.
func (t *Tracker) Finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.store.remove(t.id)
}
