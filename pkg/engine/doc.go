// Package engine wires the privacy classifier, the hybrid retriever, the
// consolidation engine, reinforcement and decay around one SQLite store.
//
// An Engine is safe for concurrent use. Call Start to run the reinforcement
// workers and the decay schedule, and Close to drain pending reinforcements
// before the store is closed.
package engine
