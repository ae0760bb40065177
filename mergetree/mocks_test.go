package mergetree

// Mock client id generation for testing. Returns a function to undo the mocking.
func MockClientIDs(ids ...string) func() {
	var i int
	oldNewClientID := newClientID
	undo := func() { newClientID = oldNewClientID }
	newClientID = func() string {
		id := ids[i]
		i++
		return id
	}
	return undo
}
