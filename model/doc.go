// Package model defines the core data types shared across the retrago engine:
// corpus items, chunk provenance records, spans, evidence, and the backend and
// normalization enums recorded in snapshot manifests.
package model
