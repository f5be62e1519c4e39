package database

import (
	"bytes"
	"encoding/hex"
)

var separator = []byte("/")

// Key is a full database key: the path of the bucket it belongs to followed
// by a suffix.
type Key struct {
	bucket *Bucket
	suffix []byte
}

// Bytes returns the full key as stored.
func (k *Key) Bytes() []byte {
	bucketPath := k.bucket.Path()
	keyBytes := make([]byte, len(bucketPath)+len(k.suffix))
	copy(keyBytes, bucketPath)
	copy(keyBytes[len(bucketPath):], k.suffix)
	return keyBytes
}

func (k *Key) String() string {
	return string(k.bucket.Path()) + hex.EncodeToString(k.suffix)
}

// Bucket returns the bucket the key belongs to.
func (k *Key) Bucket() *Bucket {
	return k.bucket
}

// Suffix returns the part of the key after the bucket path.
func (k *Key) Suffix() []byte {
	return k.suffix
}

func newKey(bucket *Bucket, suffix []byte) *Key {
	return &Key{bucket: bucket, suffix: suffix}
}

// Bucket is a key prefix built from a path of names. Buckets may be nested
// and are iterated with a Cursor.
type Bucket struct {
	path [][]byte
}

// MakeBucket creates a bucket from the given path.
func MakeBucket(path ...[]byte) *Bucket {
	return &Bucket{path: path}
}

// Bucket returns the sub-bucket of b named bucketBytes.
func (b *Bucket) Bucket(bucketBytes []byte) *Bucket {
	newPath := make([][]byte, len(b.path)+1)
	copy(newPath, b.path)
	newPath[len(b.path)] = bucketBytes
	return MakeBucket(newPath...)
}

// Key returns the key with the given suffix inside b.
func (b *Bucket) Key(suffix []byte) *Key {
	return newKey(b, suffix)
}

// Path returns the byte prefix shared by every key in b.
func (b *Bucket) Path() []byte {
	bucketPath := bytes.Join(b.path, separator)
	pathWithSeparator := make([]byte, len(bucketPath)+len(separator))
	copy(pathWithSeparator, bucketPath)
	copy(pathWithSeparator[len(bucketPath):], separator)
	return pathWithSeparator
}
