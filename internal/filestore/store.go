package filestore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("files")

// ErrStop halts a ForEach walk early without reporting an error.
var ErrStop = errors.New("stop iteration")

type Status string

const (
	StatusIndexed Status = "indexed"
	StatusFailed  Status = "failed"
	StatusUpdated Status = "updated"
)

// IndexedFile is the durable record for one indexed filesystem path.
type IndexedFile struct {
	Path        string            `json:"path"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	MimeType    string            `json:"mime_type"`
	ContentHash string            `json:"content_hash"`
	CreatedAt   time.Time         `json:"created_at"`
	ModifiedAt  time.Time         `json:"modified_at"`
	IndexedAt   time.Time         `json:"indexed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Content     string            `json:"content,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Category    string            `json:"category"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
}

// Store maps file paths to IndexedFile records in a bbolt database. Writes
// are single-writer per transaction, so concurrent puts to different paths
// are safe.
type Store struct {
	db *bolt.DB
}

func New(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to open file store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to init file store", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Put(rec *IndexedFile) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(rec.Path), data)
	})
}

func (s *Store) Get(path string) (*IndexedFile, bool, error) {
	var rec *IndexedFile

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(path))
		if v == nil {
			return nil
		}
		rec = &IndexedFile{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, false, err
	}

	return rec, rec != nil, nil
}

// Delete removes the record for path. Deleting an absent path is a no-op.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(path))
	})
}

// ForEach visits every record in key order. Returning ErrStop from fn ends
// the walk early without error.
func (s *Store) ForEach(fn func(rec *IndexedFile) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			rec := &IndexedFile{}
			if err := json.Unmarshal(v, rec); err != nil {
				return err
			}
			return fn(rec)
		})
	})
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (s *Store) Count() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return count, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
