// Package jsondb provides a JSON-file-backed implementation of the storage
// contract: the full state is read into memory on open and flushed back on
// Close. The never-expire sentinel survives the file round trip because
// every expiry field serializes through models.Millis.
package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quicklnk/quicklnk/internal/db/memorystorage"
	"github.com/quicklnk/quicklnk/internal/models"
)

// JSONDB is the in-memory storage plus a backing file.
type JSONDB struct {
	*memorystorage.MemoryStorage

	fileName string
}

// New opens (or initializes) the backing file and loads it.
func New(fileName string) (*JSONDB, error) {
	cache, err := memorystorage.New()
	if err != nil {
		return nil, err
	}

	db := &JSONDB{
		MemoryStorage: cache,
		fileName:      fileName,
	}

	snapshot, err := parseJSONFile(fileName)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := db.flush(); err != nil {
			return nil, err
		}

		return db, nil
	}
	db.Restore(snapshot)

	return db, nil
}

func parseJSONFile(fileName string) (memorystorage.Snapshot, error) {
	var snapshot memorystorage.Snapshot

	file, err := os.Open(fileName)
	if err != nil {
		return snapshot, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return snapshot, fmt.Errorf(
			"in internal/db/jsondb/jsondb.go/parseJSONFile(): error while `Decode()` calling: %w",
			err,
		)
	}

	return snapshot, nil
}

func (db *JSONDB) flush() error {
	jsonData, err := json.MarshalIndent(db.Snapshot(), "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %s", err)
	}

	file, err := os.OpenFile(db.fileName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("error opening file: %s", err)
	}
	defer file.Close()

	if _, err := file.Write(jsonData); err != nil {
		return fmt.Errorf("error writing to file: %s", err)
	}

	return nil
}

// UpsertLinkByAlias writes through to the cache and flushes the file, so a
// crash loses at most the in-flight write.
func (db *JSONDB) UpsertLinkByAlias(
	ctx context.Context,
	record models.LinkRecord,
	now time.Time,
) error {
	if err := db.MemoryStorage.UpsertLinkByAlias(ctx, record, now); err != nil {
		return err
	}

	return db.flush()
}

// Close flushes the cache to the backing file.
func (db *JSONDB) Close() error {
	return db.flush()
}
