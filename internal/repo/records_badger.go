package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/nestling/internal/models"
)

const (
	recordPrefix = "rec/"
	indexPrefix  = "recid/"
)

// BadgerRecordStore persists activity records keyed by baby, kind and start time.
type BadgerRecordStore struct {
	db *badger.DB
}

// NewBadgerRecordStore wraps an open database.
func NewBadgerRecordStore(db *badger.DB) *BadgerRecordStore {
	return &BadgerRecordStore{db: db}
}

// Save validates and writes the record, replacing any earlier version with the same id.
func (s *BadgerRecordStore) Save(ctx context.Context, record models.ActivityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := recordKey(record)
	index := []byte(indexPrefix + url.PathEscape(record.BabyID) + "/" + url.PathEscape(record.ID))
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(index)
		switch {
		case err == nil:
			previous, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(previous, key) {
				if err := txn.Delete(previous); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(index, key)
	})
}

// Fetch returns the records of one kind whose start lies in the closed range, ordered by start.
func (s *BadgerRecordStore) Fetch(ctx context.Context, babyID string, kind models.KindType, dateRange models.DateRange) ([]models.ActivityRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	prefix := kindPrefix(babyID, kind)
	lower := append(append([]byte{}, prefix...), startComponent(dateRange.Start)...)

	records := make([]models.ActivityRecord, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(lower); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record models.ActivityRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if record.StartTime.After(dateRange.End) {
				break
			}
			if dateRange.Contains(record.StartTime) {
				records = append(records, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Sleep returns a fetcher over sleep records.
func (s *BadgerRecordStore) Sleep() RecordView { return RecordView{store: s, kind: models.KindSleep} }

// Feeding returns a fetcher over feeding records.
func (s *BadgerRecordStore) Feeding() RecordView { return RecordView{store: s, kind: models.KindFeeding} }

// Activity returns a fetcher over generic activity records.
func (s *BadgerRecordStore) Activity() RecordView { return RecordView{store: s, kind: models.KindActivity} }

// RecordView narrows the store to one record kind.
type RecordView struct {
	store *BadgerRecordStore
	kind  models.KindType
}

func (v RecordView) Fetch(ctx context.Context, babyID string, dateRange models.DateRange) ([]models.ActivityRecord, error) {
	return v.store.Fetch(ctx, babyID, v.kind, dateRange)
}

func kindPrefix(babyID string, kind models.KindType) []byte {
	return []byte(recordPrefix + url.PathEscape(babyID) + "/" + string(kind) + "/")
}

// startComponent encodes the start time so that byte order matches time order.
func startComponent(t time.Time) string {
	return fmt.Sprintf("%020d", uint64(t.UnixNano())^(1<<63))
}

func recordKey(r models.ActivityRecord) []byte {
	return append(kindPrefix(r.BabyID, r.Kind.Type), []byte(startComponent(r.StartTime)+"/"+url.PathEscape(r.ID))...)
}
