// Package scholar defines the core types and the shared extraction engine for
// the Scholar scraping service: search specifications, extracted records,
// resumable checkpoints, the per-year pagination algorithm, and the contracts
// implemented by execution strategies and persistence layers.
package scholar
