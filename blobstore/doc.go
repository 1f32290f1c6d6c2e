// Package blobstore replicates immutable snapshot files to remote storage.
//
// Store is the interface for reading and writing data blobs. Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap reads and atomic writes
//   - MemoryStore: in-memory store for testing
//   - s3.Store: Amazon S3 with multipart uploads and range reads
//   - minio.Store: MinIO and other S3-compatible object stores
//
// Push and Pull move whole snapshots between a local snapshot store and a
// remote Store. Because a snapshot is immutable once published, replication
// needs no locking: files upload in a fixed order with the manifest last, so
// any remote snapshot whose manifest exists is complete.
package blobstore
