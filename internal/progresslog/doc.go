/*
Package progresslog provides periodic logging of evidence ingestion progress.

A Logger accumulates record counts reported by any number of goroutines and
emits at most one summary line every ten seconds unless a log is forced.
*/
package progresslog
