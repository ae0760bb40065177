package mergetree_test

import (
	"github.com/brunokim/merge-tree/mergetree"
)

// The subset of testing.TB that both *testing.T and *rapid.T implement.
type tb interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// A set of clients sharing a sequencing service.
//
// Ops are sequenced when created, and applied to every client when flushed, in order.
type testClients struct {
	t       tb
	names   []string
	clients map[string]*mergetree.Client
	seq     int
	ops     []mergetree.SequencedMessage
}

func newTestClients(t tb, initialState string, names ...string) *testClients {
	t.Helper()
	tc := &testClients{
		t:       t,
		names:   names,
		clients: make(map[string]*mergetree.Client),
	}
	for _, name := range names {
		tc.clients[name] = mergetree.NewClientAtInitialState(initialState, mergetree.WithLongClientID(name))
	}
	return tc
}

func (tc *testClients) get(name string) *mergetree.Client {
	return tc.clients[name]
}

// Returns a func that sequences a local op created by client 'name'. It takes the
// result of a local op call directly:
//
//	tc.submit("A")(tc.get("A").InsertTextLocal(0, "x", nil))
func (tc *testClients) submit(name string) func(*mergetree.Op, error) {
	return func(op *mergetree.Op, err error) {
		tc.t.Helper()
		if err != nil {
			tc.t.Fatalf("client %s: %v", name, err)
		}
		tc.seq++
		tc.ops = append(tc.ops, tc.clients[name].MakeOpMessage(op, tc.seq))
	}
}

// Returns a driver over client 'name' that sequences every op it creates.
func (tc *testClients) driver(name string) *mergetree.ClientDriver {
	c := tc.clients[name]
	return mergetree.NewClientDriver(c, func(op *mergetree.Op) {
		tc.seq++
		tc.ops = append(tc.ops, c.MakeOpMessage(op, tc.seq))
	})
}

// Applies the first n pending messages to all clients, or all of them if n < 0.
func (tc *testClients) flush(n int) {
	tc.t.Helper()
	if n < 0 || n > len(tc.ops) {
		n = len(tc.ops)
	}
	msgs := tc.ops[:n]
	tc.ops = tc.ops[n:]
	for _, msg := range msgs {
		for _, name := range tc.names {
			if err := tc.clients[name].ApplyMsg(msg); err != nil {
				tc.t.Fatalf("client %s applying seq %d: %v", name, msg.SequenceNumber, err)
			}
		}
	}
}

// Checks that all clients have the same text, and that it matches want if not empty.
func (tc *testClients) validate(want string) {
	tc.t.Helper()
	first := tc.clients[tc.names[0]].GetText()
	for _, name := range tc.names {
		if got := tc.clients[name].GetText(); got != first {
			tc.t.Errorf("client %s has text %q, client %s has %q", name, got, tc.names[0], first)
		}
	}
	if want != "" && first != want {
		tc.t.Errorf("text: got %q, want %q", first, want)
	}
}

// Records the local deltas of client 'name' as revertibles, until the returned func is called.
func (tc *testClients) record(name string, rc *mergetree.RevertContext, revertibles *[]mergetree.Revertible) func() {
	tc.t.Helper()
	c := tc.clients[name]
	c.OnDelta(func(delta *mergetree.DeltaArgs) {
		if !delta.Local {
			return
		}
		var err error
		*revertibles, err = rc.AppendToRevertibles(*revertibles, delta)
		if err != nil {
			tc.t.Fatalf("recording delta of %s: %v", name, err)
		}
	})
	return func() { c.OnDelta(nil) }
}
