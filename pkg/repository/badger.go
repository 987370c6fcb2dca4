package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/model"

	"go.uber.org/zap"
)

const (
	racetrackEntity = "RACETRACK"
	entryEntity     = "ENTRY"
)

// Badger implements Repository on an embedded badger database.
// Keys are "<ENTITY>/<id>" and values are msgpack encoded.
type Badger struct {
	db     *badger.DB
	logger *logger.Logger
}

// OpenBadger opens (or creates) the database at path. An empty path opens an in-memory database.
func OpenBadger(path string, l *logger.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Badger{db: db, logger: l}, nil
}

func buildKey(entity, id string) []byte {
	return []byte(fmt.Sprintf("%s/%s", entity, id))
}

func (b *Badger) set(ctx context.Context, key []byte, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (b *Badger) SaveRacetrack(ctx context.Context, r model.Racetrack) error {
	if err := b.set(ctx, buildKey(racetrackEntity, r.ID), r); err != nil {
		return fmt.Errorf("failed to save racetrack %s: %w", r.ID, err)
	}
	b.logger.Debug("racetrack saved", zap.String("racetrack_id", r.ID))
	return nil
}

func (b *Badger) SaveTimeEntry(ctx context.Context, e model.TimeEntry) error {
	if err := b.set(ctx, buildKey(entryEntity, e.ID), e); err != nil {
		return fmt.Errorf("failed to save time entry %s: %w", e.ID, err)
	}
	return nil
}

// scan decodes every value stored under entity into a fresh T
func scan[T any](db *badger.DB, entity string) ([]T, error) {
	var list []T
	prefix := []byte(entity + "/")

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			list = append(list, v)
		}
		return nil
	})
	return list, err
}

func (b *Badger) LoadRacetracks(ctx context.Context) ([]model.Racetrack, error) {
	list, err := scan[model.Racetrack](b.db, racetrackEntity)
	if err != nil {
		return nil, fmt.Errorf("failed to get racetrack list: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (b *Badger) LoadTimeEntries(ctx context.Context) ([]model.TimeEntry, error) {
	list, err := scan[model.TimeEntry](b.db, entryEntity)
	if err != nil {
		return nil, fmt.Errorf("failed to get time entry list: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].SubmittedAt.Before(list[j].SubmittedAt) })
	return list, nil
}

func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("badger db is closed")
	}
	return nil
}

// Close compacts and closes the database
func (b *Badger) Close() error {
	if !b.db.Opts().InMemory {
		if err := b.db.Flatten(4); err != nil {
			b.logger.Warn("flatten on stop failed", zap.Error(err))
		}
		if err := b.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
			b.logger.Warn("value log gc failed", zap.Error(err))
		}
	}
	return b.db.Close()
}
