package audio

// Drain consumes frames until the capture source closes the channel and
// returns how many were discarded. A source whose consumer has stopped
// reading must still be drained, or its capture goroutine blocks on send
// and never exits.
func Drain(frames <-chan Frame) int {
	n := 0
	for range frames {
		n++
	}
	return n
}
