package mergetree_test

import (
	"fmt"

	"github.com/brunokim/merge-tree/mergetree"
)

// Two clients edit the same document concurrently, and converge once the
// sequencing service orders their operations.
func Example() {
	c1 := mergetree.NewClientAtInitialState("hello world", mergetree.WithLongClientID("c1"))
	c2 := mergetree.NewClientAtInitialState("hello world", mergetree.WithLongClientID("c2"))

	// c1: hello world -> hello, world!
	op1, _ := c1.InsertTextLocal(5, ",", nil)
	msg1 := c1.MakeOpMessage(op1, 1)
	op2, _ := c1.InsertTextLocal(12, "!", nil)
	msg2 := c1.MakeOpMessage(op2, 2)

	// c2: hello world -> hello there
	op3, _ := c2.RemoveRangeLocal(6, 11)
	msg3 := c2.MakeOpMessage(op3, 3)
	op4, _ := c2.InsertTextLocal(6, "there", nil)
	msg4 := c2.MakeOpMessage(op4, 4)

	fmt.Println("c1:", c1.GetText())
	fmt.Println("c2:", c2.GetText())
	for _, msg := range []mergetree.SequencedMessage{msg1, msg2, msg3, msg4} {
		c1.ApplyMsg(msg)
		c2.ApplyMsg(msg)
	}
	fmt.Println("c1:", c1.GetText())
	fmt.Println("c2:", c2.GetText())
	// Output:
	// c1: hello, world!
	// c2: hello there
	// c1: hello, there!
	// c2: hello, there!
}

// Local changes can be undone with a RevertContext, even after other clients edited
// the same region.
func ExampleRevertContext() {
	c := mergetree.NewClientAtInitialState("the quick fox", mergetree.WithLongClientID("c"))
	var seq int
	ack := func(op *mergetree.Op) {
		seq++
		c.ApplyMsg(c.MakeOpMessage(op, seq))
	}
	rc := mergetree.NewRevertContext(mergetree.NewClientDriver(c, ack))

	var revertibles []mergetree.Revertible
	c.OnDelta(func(delta *mergetree.DeltaArgs) {
		revertibles, _ = rc.AppendToRevertibles(revertibles, delta)
	})
	op, _ := c.RemoveRangeLocal(4, 10)
	ack(op)
	op, _ = c.InsertTextLocal(4, "lazy ", nil)
	ack(op)
	c.OnDelta(nil)
	fmt.Println(c.GetText())

	rc.Revert(revertibles)
	fmt.Println(c.GetText())
	// Output:
	// the lazy fox
	// the quick fox
}
