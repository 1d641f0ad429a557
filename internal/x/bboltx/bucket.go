package bboltx

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
)

// Container is a transaction or bucket that holds named buckets.
type Container interface {
	CreateBucketIfNotExists([]byte) (*bbolt.Bucket, error)
	Bucket([]byte) *bbolt.Bucket
}

var (
	_ Container = (*bbolt.Tx)(nil)
	_ Container = (*bbolt.Bucket)(nil)
)

// CreateBucketIfNotExists creates nested buckets with names given by the elements of path.
func CreateBucketIfNotExists(p Container, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	var (
		b   *bbolt.Bucket
		err error
	)

	for _, n := range path {
		b, err = p.CreateBucketIfNotExists(n)
		Must(err)

		p = b
	}

	return b
}

// Bucket gets nested buckets with names given by the elements of path.
//
// It returns nil if any of the nested buckets does not exist.
func Bucket(p Container, path ...[]byte) (b *bbolt.Bucket) {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	for _, n := range path {
		b = p.Bucket(n)
		if b == nil {
			return nil
		}

		p = b
	}

	return b
}

// Put writes a value to a bucket.
func Put(b *bbolt.Bucket, k, v []byte) {
	Must(b.Put(k, v))
}

// Delete removes a key from a bucket.
func Delete(b *bbolt.Bucket, k []byte) {
	Must(b.Delete(k))
}

// NextSequence returns the next value of the bucket's sequence.
func NextSequence(b *bbolt.Bucket) uint64 {
	n, err := b.NextSequence()
	Must(err)
	return n
}

// MarshalUint64 encodes n as a big-endian key, so that keys sort in numeric
// order.
func MarshalUint64(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

// UnmarshalUint64 decodes a key produced by MarshalUint64().
func UnmarshalUint64(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
