package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"photopipe/internal/models"
)

var photoPrefix = []byte("photo/")

// BadgerStore keeps photo records as JSON values in an embedded badger database.
// It serves single-node deployments that run without Postgres.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	const op = "storage.NewBadgerStore"

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &BadgerStore{db: db}, nil
}

func newBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func photoKey(id string) []byte {
	return append(append([]byte{}, photoPrefix...), id...)
}

// UpsertPhoto writes the record, keeping the stored Timestamp when one exists.
func (b *BadgerStore) UpsertPhoto(_ context.Context, p *models.Photo) error {
	const op = "storage.BadgerStore.UpsertPhoto"

	err := b.db.Update(func(txn *badger.Txn) error {
		record := *p
		if record.Result == nil {
			record.Result = []string{}
		}

		item, err := txn.Get(photoKey(p.ID()))
		switch {
		case err == nil:
			var existing models.Photo
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			record.Timestamp = existing.Timestamp
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		data, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal photo: %w", err)
		}
		return txn.Set(photoKey(p.ID()), data)
	})
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (b *BadgerStore) GetPhoto(_ context.Context, id string) (*models.Photo, error) {
	const op = "storage.BadgerStore.GetPhoto"

	var p models.Photo
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(photoKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrPhotoNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &p, nil
}

func (b *BadgerStore) ListPhotos(_ context.Context) ([]models.Photo, error) {
	const op = "storage.BadgerStore.ListPhotos"

	photos := []models.Photo{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(photoPrefix); it.ValidForPrefix(photoPrefix); it.Next() {
			var p models.Photo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			photos = append(photos, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return photos, nil
}
