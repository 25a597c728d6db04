// Package reinforce strengthens records each time retrieval returns them.
//
// A reinforcement adds a per-kind boost up to a per-kind ceiling, bumps the
// retrieval count and refreshes last access. The store applies it as one
// UPDATE, so concurrent reinforcements of the same record never lose an
// increment. Queue moves those writes off the read path with at-least-once
// delivery.
package reinforce
