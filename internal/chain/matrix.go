package chain

import "fmt"

// Matrix is a dense row-major batch. Rows index codewords.
type Matrix[T uint8 | float32] struct {
	Rows int
	Cols int
	Data []T
}

// Bits holds hard 0/1 decisions.
type Bits = Matrix[uint8]

// Soft holds per-bit confidence values; positive means "1" is more likely.
type Soft = Matrix[float32]

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix[T uint8 | float32](rows, cols int) Matrix[T] {
	return Matrix[T]{
		Rows: rows,
		Cols: cols,
		Data: make([]T, rows*cols),
	}
}

// Row returns a view of row i.
func (m Matrix[T]) Row(i int) []T {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// Slice returns a view over rows [lo, hi).
func (m Matrix[T]) Slice(lo, hi int) Matrix[T] {
	return Matrix[T]{
		Rows: hi - lo,
		Cols: m.Cols,
		Data: m.Data[lo*m.Cols : hi*m.Cols],
	}
}

// Shape formats the dimensions as "(rows, cols)".
func (m Matrix[T]) Shape() string {
	return fmt.Sprintf("(%d, %d)", m.Rows, m.Cols)
}
