package puzzle

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

const (
	// Cell values in a configuration string
	Filled byte = '1'
	Empty  byte = '0'

	// DefaultDimension is the side length of a standard puzzle.
	DefaultDimension = 5

	// DefaultConfiguration is the starting 5x5 puzzle.
	DefaultConfiguration = "0010000100111110111001010"
)

// Grid is a square board of cells, indexed [row][col]. A true cell is filled.
type Grid [][]bool

// Hints holds the run-length hints for every row or every column of a grid.
type Hints [][]int

// FormatError reports a configuration string that cannot describe a grid.
type FormatError struct {
	Configuration string
	Reason        string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Configuration, e.Reason)
}

// NewGrid returns an empty n x n grid.
func NewGrid(n int) Grid {
	grid := make(Grid, n)
	for i := range grid {
		grid[i] = make([]bool, n)
	}
	return grid
}

// Dimension returns the side length of the grid.
func (g Grid) Dimension() int {
	return len(g)
}

// Equal reports whether both grids have the same shape and cells.
func (g Grid) Equal(other Grid) bool {
	if len(g) != len(other) {
		return false
	}
	for r := range g {
		if len(g[r]) != len(other[r]) {
			return false
		}
		for c := range g[r] {
			if g[r][c] != other[r][c] {
				return false
			}
		}
	}
	return true
}

// Encode flattens the grid row-major into a configuration string.
func Encode(grid Grid) string {
	var sb strings.Builder
	sb.Grow(len(grid) * len(grid))
	for _, row := range grid {
		for _, cell := range row {
			if cell {
				sb.WriteByte(Filled)
			} else {
				sb.WriteByte(Empty)
			}
		}
	}
	return sb.String()
}

// Decode splits a configuration string into an n x n grid.
func Decode(s string, n int) (Grid, error) {
	if n <= 0 {
		return nil, &FormatError{Configuration: s, Reason: fmt.Sprintf("dimension %d is not positive", n)}
	}
	if len(s) != n*n {
		return nil, &FormatError{Configuration: s, Reason: fmt.Sprintf("length %d does not match %dx%d", len(s), n, n)}
	}

	grid := NewGrid(n)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case Filled:
			grid[i/n][i%n] = true
		case Empty:
		default:
			return nil, &FormatError{Configuration: s, Reason: fmt.Sprintf("character %q at %d is not 0 or 1", s[i], i)}
		}
	}
	return grid, nil
}

// DimensionOf returns the side length implied by a configuration string.
func DimensionOf(s string) (int, error) {
	if s == "" {
		return 0, &FormatError{Configuration: s, Reason: "empty"}
	}
	n := int(math.Sqrt(float64(len(s))))
	for n*n < len(s) {
		n++
	}
	if n*n != len(s) {
		return 0, &FormatError{Configuration: s, Reason: fmt.Sprintf("length %d is not a perfect square", len(s))}
	}
	return n, nil
}

// Parse decodes a configuration string whose dimension is inferred from its length.
func Parse(s string) (Grid, error) {
	n, err := DimensionOf(s)
	if err != nil {
		return nil, err
	}
	return Decode(s, n)
}

// Validate checks that s is a well-formed configuration string.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// RowHints returns, for each row, the lengths of the filled runs from left to right.
func RowHints(grid Grid) Hints {
	hints := make(Hints, len(grid))
	for r := range grid {
		hints[r] = runs(len(grid[r]), func(i int) bool { return grid[r][i] })
	}
	return hints
}

// ColumnHints returns, for each column, the lengths of the filled runs from top to bottom.
func ColumnHints(grid Grid) Hints {
	n := grid.Dimension()
	hints := make(Hints, n)
	for c := 0; c < n; c++ {
		hints[c] = runs(len(grid), func(i int) bool { return grid[i][c] })
	}
	return hints
}

func runs(length int, filled func(int) bool) []int {
	out := []int{}
	count := 0
	for i := 0; i < length; i++ {
		if filled(i) {
			count++
			continue
		}
		if count > 0 {
			out = append(out, count)
			count = 0
		}
	}
	if count > 0 {
		out = append(out, count)
	}
	return out
}

// Random returns a random configuration string for an n x n puzzle.
// A nil rng uses the package-level source.
func Random(n int, rng *rand.Rand) string {
	coin := rand.IntN
	if rng != nil {
		coin = rng.IntN
	}

	b := make([]byte, n*n)
	for i := range b {
		if coin(2) == 0 {
			b[i] = Empty
		} else {
			b[i] = Filled
		}
	}
	return string(b)
}
