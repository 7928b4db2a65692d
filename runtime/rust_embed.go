// Package runtimeembed provides the embedded Rust sources injected into
// every evaluation crate: the variable store and the worker main loop.
package runtimeembed

import (
	_ "embed"
)

//go:embed rust/internal_runtime.rs
var variableStoreSource string

//go:embed rust/worker_main.rs
var workerMainSource string

// VariableStoreSource returns the source of the in-process variable store.
func VariableStoreSource() string {
	return variableStoreSource
}

// WorkerMainSource returns the source of the worker binary's main loop.
func WorkerMainSource() string {
	return workerMainSource
}
