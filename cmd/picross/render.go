package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"ctchen222/picross/internal/puzzle"
)

// renderPuzzle prints the solution grid of configuration with the row hints
// to the right of each row and the column hints below the grid.
func renderPuzzle(w io.Writer, configuration string) error {
	grid, err := puzzle.Parse(configuration)
	if err != nil {
		return err
	}
	rows := puzzle.RowHints(grid)
	cols := puzzle.ColumnHints(grid)
	for i, c := range cols {
		if len(c) == 0 {
			cols[i] = []int{0}
		}
	}

	for r, row := range grid {
		var sb strings.Builder
		for _, filled := range row {
			if filled {
				sb.WriteString("# ")
			} else {
				sb.WriteString(". ")
			}
		}
		fmt.Fprintf(w, "%s  %s\n", sb.String(), joinHints(rows[r]))
	}

	depth := 0
	for _, c := range cols {
		depth = max(depth, len(c))
	}
	for i := 0; i < depth; i++ {
		var sb strings.Builder
		for _, c := range cols {
			if i < len(c) {
				sb.WriteString(strconv.Itoa(c[i]))
			} else {
				sb.WriteString(" ")
			}
			sb.WriteString(" ")
		}
		fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}
	return nil
}

func joinHints(hints []int) string {
	if len(hints) == 0 {
		return "0"
	}
	parts := make([]string, len(hints))
	for i, h := range hints {
		parts[i] = strconv.Itoa(h)
	}
	return strings.Join(parts, " ")
}
