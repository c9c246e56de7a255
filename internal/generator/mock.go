package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"dailyprompt/internal/storage"
)

var countPattern = regexp.MustCompile(`exactly (\d+)`)

// Mock returns well-formed batches without calling a model. Useful for local
// runs and dry deliveries.
type Mock struct{}

func (Mock) Complete(ctx context.Context, instruction string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := 1
	if m := countPattern.FindStringSubmatch(instruction); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
			n = v
		}
	}
	items := make([]storage.Item, n)
	for i := range items {
		items[i] = storage.Item{Prompt: fmt.Sprintf("What is one small thing you can notice today? (#%d)", i+1)}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
