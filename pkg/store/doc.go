/*
Package store provides the file-backed page and template store used by the
message station. Pages live in one directory and the templates they include in
another; only .html and .htm files are considered.

A FileStore either caches every file in memory, refreshing on demand, or reads
straight from disk on each lookup. It satisfies render.Store.
*/
package store
