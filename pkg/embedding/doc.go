// Package embedding provides text embedding providers: an OpenAI-backed
// provider, a deterministic hashing provider for offline use, and an LRU
// cache wrapper. Callers bound provider calls with EmbedWithTimeout.
package embedding
