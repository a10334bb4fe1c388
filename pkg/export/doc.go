// Package export writes authority matrix snapshots to S3-compatible object
// storage.
//
// Each snapshot is a JSON document stored under
//
//	<prefix>/<tenant>/<preset id>/<generated at, RFC 3339>.json
//
// with a sha256 checksum in the object metadata. MinIO and other S3
// compatible stores are supported through Config.Endpoint and ForcePathStyle.
package export
