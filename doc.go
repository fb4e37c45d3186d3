// Package bookrec turns a corpus of long-form books into a searchable
// recommendation index.
//
// # Pipeline
//
// Ingestion runs in stages, each behind its own package:
//
//   - blobstore: raw documents and summary artifacts in NATS Object Store
//   - summarize: hierarchical map/reduce summarization into semantic views
//     (plot, thematic, character, combined) via an OpenAI-compatible chat
//     endpoint
//   - embedding: one vector per view through an OpenAI-compatible
//     embedding endpoint, with a content-addressed NATS KV cache
//   - index: bulk upserts into OpenSearch knn indices and per-view search
//   - ledger: a crash-consistent checkpoint of per-document progress, so
//     interrupted runs resume without redoing finished work
//   - ingest: the orchestrator tying the stages together over a bounded
//     worker pool
//
// Queries embed the query text once and search either a single view or
// fan out across all views, max-pooling per-document scores (query
// package).
//
// # Error handling
//
// Failures carry one of three classes (errors package): transient errors
// retry with backoff, content errors quarantine the offending document,
// and config errors abort the run.
package bookrec
