package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Provider turns text into a fixed-dimension vector
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ErrEmptyText is returned for blank input
var ErrEmptyText = errors.New("cannot embed empty text")

// EmbedWithTimeout calls p.Embed bounded by timeout. A non-positive timeout
// leaves the caller's deadline untouched.
func EmbedWithTimeout(ctx context.Context, p Provider, text string, timeout time.Duration) ([]float32, error) {
	if p == nil {
		return nil, errors.New("no embedding provider configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vec, err := p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if d := p.Dimension(); d > 0 && len(vec) != d {
		return nil, fmt.Errorf("embedding has dimension %d, expected %d", len(vec), d)
	}
	return vec, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place and returns it
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
