package chainstore

import (
	"encoding/hex"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
)

func prepareStoreForTest(t *testing.T, testName string) (store *Store, teardownFunc func()) {
	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("%s: NewLevelDB unexpectedly failed: %s", testName, err)
	}
	teardownFunc = func() {
		err := db.Close()
		if err != nil {
			t.Fatalf("%s: Close unexpectedly failed: %s", testName, err)
		}
	}
	return New(db), teardownFunc
}

func addBlocksForTest(t *testing.T, testName string, store *Store, blocks []*model.VerifiedBlock) {
	for _, block := range blocks {
		err := store.Update(func(tx *StoreTx) error {
			return tx.AddBlock(block)
		})
		if err != nil {
			t.Fatalf("%s: AddBlock at height %d unexpectedly failed: %s", testName, block.Height, err)
		}
	}
}

// snapshotForTest returns every key and value the store has written.
func snapshotForTest(t *testing.T, testName string, store *Store) map[string]string {
	snapshot := make(map[string]string)
	err := store.View(func(tx *StoreTx) error {
		cursor, err := tx.accessor.Cursor(rootBucket)
		if err != nil {
			return err
		}
		defer cursor.Close()
		for ok := cursor.First(); ok; ok = cursor.Next() {
			key, err := cursor.Key()
			if err != nil {
				return err
			}
			value, err := cursor.Value()
			if err != nil {
				return err
			}
			snapshot[hex.EncodeToString(key.Bytes())] = hex.EncodeToString(value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%s: snapshot unexpectedly failed: %s", testName, err)
	}
	return snapshot
}

func compareSnapshotsForTest(t *testing.T, testName string, expected, actual map[string]string) {
	if reflect.DeepEqual(expected, actual) {
		return
	}
	for key, value := range expected {
		if actual[key] != value {
			t.Errorf("%s: key %s: want %s, got %s", testName, key, value, actual[key])
		}
	}
	for key, value := range actual {
		if _, ok := expected[key]; !ok {
			t.Errorf("%s: unexpected key %s with value %s", testName, key, value)
		}
	}
	t.Fatalf("%s: snapshots differ:\n%s", testName, spew.Sdump(len(expected), len(actual)))
}

