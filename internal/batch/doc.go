// Package batch encrypts and decrypts folder trees file by file.
//
// A job discovers every regular file under a source root, processes the files
// on a bounded worker pool and writes one record and one key artifact per file
// (or one plaintext per record when decrypting) under a destination root that
// mirrors the source layout. Per-file failures are collected into the job's
// results and never abort the job. A JSON summary is written next to the outputs.
package batch
