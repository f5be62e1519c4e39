package ldb

import (
	"fmt"
	"testing"

	"github.com/ringchain/ringd/infrastructure/db/database"
)

func prepareDatabaseForTest(t *testing.T, testName string) (ldb *LevelDB, teardownFunc func()) {
	path := t.TempDir()
	ldb, err := NewLevelDB(path, 8)
	if err != nil {
		t.Fatalf("%s: NewLevelDB unexpectedly failed: %s", testName, err)
	}
	teardownFunc = func() {
		err = ldb.Close()
		if err != nil {
			t.Fatalf("%s: Close unexpectedly failed: %s", testName, err)
		}
	}
	return ldb, teardownFunc
}

func populateBucketForTest(t *testing.T, testName string, accessor database.DataAccessor,
	bucket *database.Bucket, count int) []*database.Key {

	keys := make([]*database.Key, count)
	for i := 0; i < count; i++ {
		keys[i] = bucket.Key([]byte(fmt.Sprintf("key%d", i)))
		err := accessor.Put(keys[i], []byte(fmt.Sprintf("value%d", i)))
		if err != nil {
			t.Fatalf("%s: Put unexpectedly failed: %s", testName, err)
		}
	}
	return keys
}
