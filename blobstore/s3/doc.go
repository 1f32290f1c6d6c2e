// Package s3 implements blobstore.Store on Amazon S3, with an optional
// DynamoDB-backed CURRENT pointer for multi-writer coordination.
//
// Snapshot files upload via streaming multipart uploads; reads use range
// requests, so remote inspection of a manifest never downloads the matrix.
package s3
