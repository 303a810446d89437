// Package httpcore implements the request/response state machine the
// worker pool runs per connection: byte-oriented request-line and
// header scanning, document-root resolution, and fixed-order response
// assembly. It never touches a socket directly — conn.Connection owns
// the fixed buffers this package scans and fills.
package httpcore

const (
	// ReadBufSize is the fixed capacity of a connection's read buffer.
	// spec.md §3: 2 KiB.
	ReadBufSize = 2048

	// WriteBufSize is the fixed capacity of a connection's header write
	// buffer. spec.md §3: 2 KiB.
	WriteBufSize = 2048

	methodGET        = "GET"
	httpVer11        = "HTTP/1.1"
	crlf             = "\r\n"
	headerConnPrefix = "Connection:"
)

// ParserState is one of the three states a connection's request parser
// walks through within a single request cycle (spec.md §3).
type ParserState int

const (
	ReadingRequestLine ParserState = iota
	ReadingHeaders
	ReadingBody // unreachable for GET-only; reserved per spec.md's data model
)

// Status is an HTTP response status this core ever produces.
type Status int

const (
	StatusOK                  Status = 200
	StatusBadRequest          Status = 400
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusInternalServerError Status = 500
)

// reasonPhrase and canned bodies, fixed ASCII strings per spec.md §6.
var reasonPhrases = map[Status]string{
	StatusOK:                  "OK",
	StatusBadRequest:          "Bad Request",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusInternalServerError: "Internal Error",
}

var cannedBodies = map[Status]string{
	StatusBadRequest:          "Your request has bad syntax or is inherently impossible to satisfy.\n",
	StatusForbidden:           "You do not have permission to get file from this server.\n",
	StatusNotFound:            "The requested file was not found on this server.\n",
	StatusInternalServerError: "There was an unusual problem serving the requested file.\n",
}

const zeroLengthBody = "<html><body></body></html>"

// ReasonPhrase returns the fixed reason string for a status.
func ReasonPhrase(s Status) string { return reasonPhrases[s] }
