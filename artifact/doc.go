// Package artifact decodes forensic artifact containers into normalized
// timestamped events.
//
// A Registry maps byte-pattern signatures to decoder constructors. Classify
// picks the decoder for an input without trusting the file name; a Session
// then drives the decoder through its lifecycle, emitting events to a sink
// and recoverable per-record failures to a warning sink:
//
//	reg := artifact.DefaultRegistry()
//	src := types.BytesSource(data)
//	sess, err := reg.NewSession(src, types.Limits{})
//	if err != nil {
//	    // errors.Is(err, types.ErrWrongFormat): no registered decoder matches
//	    return err
//	}
//	var sink types.CollectSink
//	result, err := sess.Run(&sink, types.DiscardWarnSink{})
//
// A single malformed record in an otherwise valid container yields partial
// results plus a warning count, never a total failure; a malformed
// container header yields zero results and one fatal error.
package artifact
