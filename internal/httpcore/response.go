package httpcore

import "fmt"

// overflowError is returned when a response's header block would
// not fit in the fixed WriteBufSize write buffer. spec.md §9 leaves
// this open as a pinned-down decision: this implementation rejects
// (falls back to a 500 with the canned Internal Error body) rather
// than silently truncating or dropping the connection without a
// response.
type overflowError struct{ need int }

func (e overflowError) Error() string {
	return fmt.Sprintf("httpcore: response headers need %d bytes, write buffer is %d", e.need, WriteBufSize)
}

// IsOverflow reports whether err was returned because a response would
// not fit in the write buffer.
func IsOverflow(err error) bool {
	_, ok := err.(overflowError)
	return ok
}

// Plan describes what the writer must send for one response: header
// bytes (always a view into the connection's write buffer) and,
// for a successful file GET, the file's bytes as a second range.
type Plan struct {
	Header []byte
	Body   []byte // nil when the body is absent or already appended to Header
}

// Total returns the combined byte length of the plan.
func (p Plan) Total() int {
	return len(p.Header) + len(p.Body)
}

// BuildResponse writes the status line, Content-Length, Connection,
// and blank-line headers into writeBuf (spec.md §4.3's fixed header
// order), appends canned/placeholder bodies inline where spec.md calls
// for it, and returns the write plan plus the connection's resulting
// keep-alive decision.
//
// Any non-200 outcome forces keepAliveOut to false: every error
// scenario in spec.md §8's end-to-end examples closes the connection,
// regardless of what the request asked for, so error responses always
// carry "Connection: close" here.
func BuildResponse(writeBuf []byte, status Status, requestKeepAlive bool, fileRegion []byte, fileSize int64) (Plan, bool, error) {
	keepAliveOut := requestKeepAlive && status == StatusOK

	fileBacked := status == StatusOK && fileSize > 0

	var inlineBody []byte
	contentLength := fileSize
	switch {
	case status == StatusOK && fileSize == 0:
		inlineBody = []byte(zeroLengthBody)
		contentLength = int64(len(inlineBody))
	case status != StatusOK:
		inlineBody = []byte(cannedBodies[status])
		contentLength = int64(len(inlineBody))
	}

	connToken := "close"
	if keepAliveOut {
		connToken = "keep-alive"
	}

	header := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: %s\r\n\r\n",
		status, ReasonPhrase(status), contentLength, connToken)

	need := len(header) + len(inlineBody)
	if need > len(writeBuf) {
		return Plan{}, false, overflowError{need: need}
	}

	n := copy(writeBuf, header)
	n += copy(writeBuf[n:], inlineBody)

	if fileBacked {
		return Plan{Header: writeBuf[:len(header)], Body: fileRegion}, keepAliveOut, nil
	}
	return Plan{Header: writeBuf[:n]}, keepAliveOut, nil
}
