// Package pipeline provides lazy, composable sequence pipelines.
//
// A Pipeline wraps one source (a slice, a lazy sequence, a byte stream or
// another Pipeline) and an ordered list of stages. Stages are composed when
// a terminal operation runs and not before; every item is produced at most
// once per run.
//
// Pipeline Architecture:
//
//	Source (FromSlice, FromReader, Cat, Glob, Walk, FromHTTP, ...)
//	   ↓ iter.Seq2[any, error]
//	Stages (Map, Filter, Window, Unique, Sort, Chunk, Tail, ...)
//	   ↓ iter.Seq2[any, error]
//	Terminal (Count, ToSlice, ToString, Output, Reduce, ...)
//
// Features:
//   - Pull-based iteration on range-over-func sequences
//   - Errors raised mid-stream reach the terminal's caller
//   - Configuration errors are sticky and surface from Err() and every terminal
//   - Shared Stats per chain (bytes/lines read, output, elapsed time, memory)
//   - Streaming top-K sort on a red-black tree
//   - Bounded or exact de-duplication
//   - Transparent gzip/zstd and charset decoding for files
//
// Example Usage:
//
//	p := pipeline.Cat("/var/log/app.log", true).
//		Trim().
//		Filter(nil).
//		QuickSearch("error -healthcheck").
//		Unique(1000).
//		Head(50)
//
//	n, err := p.Output(ctx, os.Stdout)
//	fmt.Println(n, p.Stats().Elapsed())
//
// Operators never mutate their receiver: each returns a new Pipeline that
// shares the receiver's source, Stats and consumed state, so running any
// pipeline of a chain consumes the source for all of them.
package pipeline
