// Package core provides the page generation workflow used by the HTTP
// server and the CLI.
//
// The package sits between transports and the pipeline packages (csvtable,
// placeholder, render, generate). It owns everything stateful: the content
// store, the job registry, the concurrency limiter, run history and the
// optional result cache.
//
// # Operations
//
//   - [Service.ListTemplates] lists pages that can act as a template.
//   - [Service.ScanTemplate] finds a template's placeholders.
//   - [Service.Preview] renders a single row without writing anything.
//   - [Service.Generate] runs a batch synchronously.
//   - [Service.StartGeneration] runs a batch as a background job, reporting
//     progress to [Service.SubscribeProgress] after every chunk.
//
// # Jobs
//
// Background jobs follow this flow:
//
//  1. The request is validated and the template loaded; batch-fatal errors
//     are returned before a job exists.
//  2. A slot is acquired from the [JobLimiter] (or [ErrTooManyJobs]).
//  3. Rows are processed in chunks of [config.GenerateConfig.BatchSize].
//  4. Progress is broadcast to subscribers; the final result is kept for
//     the configured TTL, recorded in history and written to the cache.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a code for support reference:
//
//   - TPL001: Template errors
//   - INP001-INP002: Input errors (empty batch, invalid request)
//   - FILE001-FILE004: File errors (size, format, encoding, missing)
//   - JOB001-JOB004: Job errors (cancelled, busy, not found, timeout)
//   - DB001-DB003: Storage errors
package core
