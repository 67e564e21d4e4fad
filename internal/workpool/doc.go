// Package workpool runs units of work on a shared set of goroutines.
//
// Each submitted function becomes an Item that can be cancelled before it
// starts, waited on with a timeout, asked to stop cooperatively, or
// aborted. Script instances use one Item per event activation; the pool
// is shared by every instance in an engine.
package workpool
