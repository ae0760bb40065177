package farm

import (
	"math/rand/v2"
	"strings"

	"github.com/brunokim/merge-tree/mergetree"
)

var (
	annotateKeys   = []string{"color", "weight"}
	annotateValues = []any{"red", "blue", 1, 2, nil}
)

// Generates random local operations.
type opGenerator struct {
	rnd        *rand.Rand
	minLength  int
	operations []string
}

func (g *opGenerator) text(client *mergetree.Client) string {
	// Texts are tagged by their replica, so that a divergence shows who inserted what.
	var b strings.Builder
	tag := strings.ToLower(client.LongClientID())
	n := 1 + g.rnd.IntN(3)
	for range n {
		b.WriteString(tag)
		b.WriteByte(byte('0' + g.rnd.IntN(10)))
	}
	return b.String()
}

// Returns a random range [start, end) within a document of length n > 0.
func (g *opGenerator) span(n int) (int, int) {
	start := g.rnd.IntN(n)
	end := start + 1 + g.rnd.IntN(n-start)
	return start, end
}

// Applies a random local operation to client, returning it to be sequenced.
func (g *opGenerator) next(client *mergetree.Client) (*mergetree.Op, error) {
	n := client.GetLength()
	op := OpInsert
	if n >= g.minLength && len(g.operations) > 0 {
		op = g.operations[g.rnd.IntN(len(g.operations))]
	}
	switch op {
	case OpRemove:
		start, end := g.span(n)
		return client.RemoveRangeLocal(start, end)
	case OpAnnotate:
		start, end := g.span(n)
		key := annotateKeys[g.rnd.IntN(len(annotateKeys))]
		value := annotateValues[g.rnd.IntN(len(annotateValues))]
		return client.AnnotateRangeLocal(start, end, mergetree.PropertySet{key: value})
	}
	return client.InsertTextLocal(g.rnd.IntN(n+1), g.text(client), nil)
}
