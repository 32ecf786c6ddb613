package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const vocabularyBucket = "vocabularies"

// VocabularyDB persists user-extended classification vocabularies between
// runs. The lifecycle manager works without one; receipt entries themselves
// are never persisted.
type VocabularyDB interface {
	// SaveVocabulary stores the full value list for a vocabulary
	SaveVocabulary(name string, values []string) error

	// GetVocabulary returns the stored values, or nil when none are stored
	GetVocabulary(name string) ([]string, error)

	// Close closes the database
	Close() error
}

// BoltDB implements the VocabularyDB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(vocabularyBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveVocabulary stores the full value list for a vocabulary
func (b *BoltDB) SaveVocabulary(name string, values []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(vocabularyBucket))
		data, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("marshaling vocabulary: %w", err)
		}
		return bucket.Put([]byte(name), data)
	})
}

// GetVocabulary returns the stored values, or nil when none are stored
func (b *BoltDB) GetVocabulary(name string) ([]string, error) {
	var values []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(vocabularyBucket))
		data := bucket.Get([]byte(name))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &values)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling vocabulary: %w", err)
	}
	return values, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}
