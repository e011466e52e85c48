// Package pipeline turns a batch invocation into manifest artifacts.
//
// A batch names one or more tables. The [Orchestrator] runs one table job
// per table on a bounded [WorkerPool] and reports a single terminal status
// for the batch. Each job is handled by a [TableProcessor]; the production
// implementation is [Service], which runs these steps strictly in order
// inside its own staging area:
//
//  1. scan the curated-records index for the batch, table and historical flag
//  2. download every referenced object into the staging area
//  3. decompress and recombine them into one gzip artifact
//  4. write and upload the manifest document and the combined artifact
//  5. upsert the manifest record for (batch, table, historical)
//
// A table with no curated records produces nothing and is not an error.
// The staging area is removed whatever the outcome; a cleanup failure is
// reported alongside, never instead of, the step that failed first.
//
// # Errors
//
// Table failures are returned as [*TableError] wrapping an [errs.Error], so
// both the table and the failure category can be recovered with errors.As.
package pipeline
