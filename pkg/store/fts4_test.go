//go:build !sqlite_fts5

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBM25(t *testing.T) {
	assert.Equal(t, 0.0, bm25(nil))
	assert.Equal(t, 0.0, bm25([]byte{1, 0, 0, 0}))
}
