package farm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/brunokim/merge-tree/mergetree"
)

// ErrDiverged is returned when replicas don't agree on the document text.
var ErrDiverged = errors.New("replicas diverged")

// ReplicaLogger records the text of every replica after each sequenced message, to
// explain how they diverged.
type ReplicaLogger struct {
	title   string
	names   []string
	clients []*mergetree.Client
	rows    []table.Row
}

// NewReplicaLogger returns a logger over clients. The title heads the rendered table.
func NewReplicaLogger(title string, clients ...*mergetree.Client) *ReplicaLogger {
	l := &ReplicaLogger{title: title, clients: clients}
	for _, c := range clients {
		l.names = append(l.names, c.LongClientID())
	}
	return l
}

// Log records the replica texts after msg was applied.
func (l *ReplicaLogger) Log(msg mergetree.SequencedMessage) {
	row := table.Row{msg.SequenceNumber, msg.ReferenceSequenceNumber, msg.ClientID, msg.Contents}
	for _, c := range l.clients {
		row = append(row, c.TextWithPlaceholders())
	}
	l.rows = append(l.rows, row)
}

// Clear drops the recorded rows.
func (l *ReplicaLogger) Clear() { l.rows = nil }

// Render returns the recorded rows as a table.
func (l *ReplicaLogger) Render() string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(l.title)
	header := table.Row{"seq", "ref", "client", "op"}
	for _, name := range l.names {
		header = append(header, name)
	}
	tbl.AppendHeader(header)
	tbl.AppendRows(l.rows)
	return tbl.Render()
}

// Validate checks that all replicas have the same text and properties, and returns the text.
func (l *ReplicaLogger) Validate(prefix string) (string, error) {
	want := l.clients[0].TextWithPlaceholders()
	if err := l.Expect(prefix, want); err != nil {
		return want, err
	}
	return want, l.ExpectProperties(prefix, PropertyRuns(l.clients[0]))
}

// Expect checks that all replicas have the text want.
func (l *ReplicaLogger) Expect(prefix, want string) error {
	var explanations []string
	for i, c := range l.clients {
		got := c.TextWithPlaceholders()
		if got == want {
			continue
		}
		explanations = append(explanations, fmt.Sprintf("%s: %s", l.names[i], explain(want, got)))
	}
	if len(explanations) > 0 {
		return fmt.Errorf("%s: %w\n%s\n%s", prefix, ErrDiverged, strings.Join(explanations, "\n"), l.Render())
	}
	return nil
}

// ExpectProperties checks that all replicas have the property runs want.
func (l *ReplicaLogger) ExpectProperties(prefix string, want []PropertyRun) error {
	var explanations []string
	for i, c := range l.clients {
		if d := cmp.Diff(want, PropertyRuns(c), cmpopts.EquateEmpty()); d != "" {
			explanations = append(explanations, fmt.Sprintf("%s properties (-want +got):\n%s", l.names[i], d))
		}
	}
	if len(explanations) > 0 {
		return fmt.Errorf("%s: %w\n%s\n%s", prefix, ErrDiverged, strings.Join(explanations, "\n"), l.Render())
	}
	return nil
}

// PropertyRun is a run of consecutive visible positions with the same properties.
type PropertyRun struct {
	Length int
	Props  mergetree.PropertySet
}

// PropertyRuns returns the properties of the visible document of c, coalescing
// adjacent segments with equal properties.
func PropertyRuns(c *mergetree.Client) []PropertyRun {
	var runs []PropertyRun
	for _, seg := range c.Segments() {
		if seg.IsRemoved() || seg.Length() == 0 {
			continue
		}
		props := seg.Properties()
		if n := len(runs); n > 0 && cmp.Equal(runs[n-1].Props, props, cmpopts.EquateEmpty()) {
			runs[n-1].Length += seg.Length()
			continue
		}
		runs = append(runs, PropertyRun{Length: seg.Length(), Props: props.Clone()})
	}
	return runs
}

// Shows the edits that turn want into got.
func explain(want, got string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(want, got, false)
	return dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs))
}
