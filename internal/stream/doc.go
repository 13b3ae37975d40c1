// Package stream bridges push-style producers and pull-style consumers.
//
// A Producer pushes values through an emit callback. Start runs it in its
// own goroutine and hands values to the consumer through a bounded channel;
// the closed channel is the end-of-stream sentinel and a producer error is
// carried alongside it, so Pipe.Next returns every value in order and then
// either io.EOF or the producer's error. Pump goes the other way and drives a
// pull Source into a push callback.
//
// KeepAlive is built on the same Pipe: it races the next value of a source
// against a timer and injects a heartbeat whenever the source is silent for
// too long.
package stream
