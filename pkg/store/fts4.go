//go:build !sqlite_fts5

package store

import (
	"encoding/binary"
	"math"

	"github.com/mattn/go-sqlite3"
)

// The default build indexes text with FTS4, which every go-sqlite3 build
// ships. FTS4 has no ranking function, so BM25 is computed from matchinfo.
const (
	ftsModule    = "FTS4"
	ftsTable     = `CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts4(topic, evidence, tokenize=porter)`
	lexicalScore = `recall_bm25(matchinfo(records_fts, 'pcnalx'))`
)

func registerFunctions(conn *sqlite3.SQLiteConn) error {
	return conn.RegisterFunc("recall_bm25", bm25, true)
}

// Column weights for the lexical index: topic, evidence.
var bm25Weights = []float64{1.0, 0.5}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// bm25 scores one row from an FTS4 matchinfo blob produced with the
// 'pcnalx' format string. It is registered as the SQL function recall_bm25.
func bm25(info []byte) float64 {
	n := len(info) / 4
	if n < 3 {
		return 0
	}
	v := make([]uint32, n)
	for i := range v {
		v[i] = binary.NativeEndian.Uint32(info[i*4:])
	}

	phrases, cols, docs := int(v[0]), int(v[1]), float64(v[2])
	avgOff, lenOff, hitOff := 3, 3+cols, 3+2*cols
	if n < hitOff+3*phrases*cols {
		return 0
	}

	var score float64
	for i := 0; i < phrases; i++ {
		for j := 0; j < cols; j++ {
			base := hitOff + 3*(j+i*cols)
			tf := float64(v[base])
			if tf == 0 {
				continue
			}
			df := float64(v[base+2])
			idf := math.Log(1 + (docs-df+0.5)/(df+0.5))

			avg := float64(v[avgOff+j])
			if avg == 0 {
				avg = 1
			}
			dl := float64(v[lenOff+j])

			w := 1.0
			if j < len(bm25Weights) {
				w = bm25Weights[j]
			}
			score += w * idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*dl/avg))
		}
	}
	return score
}
