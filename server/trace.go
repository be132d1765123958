package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Frame is a single stack frame in a reported failure.
type Frame struct {
	Function string
	File     string
	Line     int
}

func (f Frame) String() string {
	return fmt.Sprintf("at %s(%s:%d)", f.Function, f.File, f.Line)
}

// FramePredicate reports whether a frame belongs to the framework
// machinery that invoked user code. The bundle loader supplies one so
// truncated traces end where user code begins; the core never
// hard-codes frame names.
type FramePredicate func(Frame) bool

// frameProvider lets an error expose its own frames directly. Errors
// produced with pkg/errors are handled via their StackTrace instead.
type frameProvider interface {
	Frames() []Frame
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func framesOf(err error) []Frame {
	if fp, ok := err.(frameProvider); ok {
		return fp.Frames()
	}
	if st, ok := err.(stackTracer); ok {
		trace := st.StackTrace()
		frames := make([]Frame, 0, len(trace))
		for _, f := range trace {
			line, _ := strconv.Atoi(fmt.Sprintf("%d", f))
			frames = append(frames, Frame{
				Function: fmt.Sprintf("%n", f),
				File:     fmt.Sprintf("%s", f),
				Line:     line,
			})
		}
		return frames
	}
	return nil
}

// causeChain returns err followed by its unwrapped causes, outermost
// first.
func causeChain(err error) []error {
	var chain []error
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, e)
	}
	return chain
}

// TruncateTrace renders err and its cause chain as text, keeping each
// cause's frames only up to (exclusive of) the first frame the stop
// predicate accepts, and skipping frames that duplicate the previous
// cause's topmost frame. Causes after the first are prefixed with
// "caused by: ".
func TruncateTrace(err error, stop FramePredicate) string {
	var b strings.Builder
	var prevTop *Frame

	for i, cause := range causeChain(err) {
		if i > 0 {
			b.WriteString("caused by: ")
		}
		fmt.Fprintf(&b, "%T: %s\n", cause, cause.Error())

		frames := framesOf(cause)
		if len(frames) == 0 {
			continue
		}
		for _, f := range frames {
			if stop != nil && stop(f) {
				break
			}
			if prevTop != nil && f == *prevTop {
				continue
			}
			b.WriteString("\t")
			b.WriteString(f.String())
			b.WriteString("\n")
		}
		top := frames[0]
		prevTop = &top
	}

	return b.String()
}
