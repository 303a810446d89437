package httpcore

import "bytes"

// ParsedRequest is what Parse produces from a complete, well-formed
// request line + header block.
type ParsedRequest struct {
	Method    string
	Target    string
	KeepAlive bool
	// Consumed is the number of bytes of the input buffer the request
	// line + headers occupied, including the terminating blank CRLF.
	Consumed int
}

// Parse walks buf as a sequence of CRLF-terminated lines, per spec.md
// §4.3: a request line, then zero or more header lines, then a blank
// line. It never waits for more data — spec.md §4.3(3) is explicit that
// a request not fully present in buf is BAD_REQUEST, not "incomplete".
//
// ok is false when buf is malformed or the header terminator was never
// reached within buf.
func Parse(buf []byte) (ParsedRequest, bool) {
	pos := 0
	state := ReadingRequestLine
	keepAlive := true
	var method, target string

	for {
		idx := bytes.Index(buf[pos:], []byte(crlf))
		if idx < 0 {
			return ParsedRequest{}, false
		}
		line := buf[pos : pos+idx]
		pos += idx + len(crlf)

		switch state {
		case ReadingRequestLine:
			m, t, ok := parseRequestLine(line)
			if !ok {
				return ParsedRequest{}, false
			}
			method, target = m, t
			state = ReadingHeaders

		case ReadingHeaders:
			if len(line) == 0 {
				return ParsedRequest{
					Method:    method,
					Target:    target,
					KeepAlive: keepAlive,
					Consumed:  pos,
				}, true
			}
			if hasConnectionPrefix(line) {
				remainder := line[len(headerConnPrefix):]
				if !containsKeepAliveCaseInsensitive(remainder) {
					keepAlive = false
				}
			}
			// any other header: reserved for future extension, ignored.
		}
	}
}

// parseRequestLine accepts only "GET <target beginning with /> HTTP/1.1".
func parseRequestLine(line []byte) (method, target string, ok bool) {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return "", "", false
	}
	if string(parts[0]) != methodGET {
		return "", "", false
	}
	if len(parts[1]) == 0 || parts[1][0] != '/' {
		return "", "", false
	}
	if string(parts[2]) != httpVer11 {
		return "", "", false
	}
	return string(parts[0]), string(parts[1]), true
}

func hasConnectionPrefix(line []byte) bool {
	return bytes.HasPrefix(line, []byte(headerConnPrefix))
}

func containsKeepAliveCaseInsensitive(remainder []byte) bool {
	return bytes.Contains(bytes.ToLower(remainder), []byte("keep-alive"))
}
