package proto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ctchen222/picross/internal/validator"
)

// Result is the PutResult payload: who played, how long it took, and the score.
type Result struct {
	Name  string `json:"name" validate:"required,excludesall=%0x2C"`
	Time  string `json:"time" validate:"required,elapsed"`
	Score int    `json:"score"`
}

// Validate checks the result against the field rules of the wire format.
func (r Result) Validate() error {
	return validator.GetValidator().Struct(r)
}

// Pack joins the result into a single payload field.
func (r Result) Pack() string {
	return strings.Join([]string{r.Name, r.Time, strconv.Itoa(r.Score)}, SubSeparator)
}

func (r Result) String() string {
	return r.Pack()
}

// ParseResult unpacks a PutResult payload of the form name,mm:ss,score.
func ParseResult(field string) (Result, error) {
	parts := strings.Split(field, SubSeparator)
	if len(parts) != 3 {
		return Result{}, fmt.Errorf("result %q: want 3 sub-fields, got %d", field, len(parts))
	}

	score, err := strconv.Atoi(parts[2])
	if err != nil {
		return Result{}, fmt.Errorf("result %q: score: %w", field, err)
	}

	r := Result{Name: parts[0], Time: parts[1], Score: score}
	if err := r.Validate(); err != nil {
		return Result{}, fmt.Errorf("result %q: %w", field, err)
	}
	return r, nil
}

// FormatElapsed renders d as the mm:ss clock shown to players.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
