// Package memory implements the tiered memory model for recall: a short-term
// append log of discrete observations (STM), a durable structured user profile
// (LTM), and a three-list working-memory board for current reasoning state (WM).
//
// The Core type is the consolidation controller and single mutating entry
// point. Each ingested analysis result is decomposed into observations and
// appended to STM; token-budget pressure folds the oldest observations into
// the LTM profile via the summarizer, and the WM board is re-derived on every
// ingest. Every summarizer failure resolves to "retain last known good state
// and continue" — no failure in this package is fatal to the process.
package memory
