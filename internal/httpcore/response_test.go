package httpcore

import (
	"strings"
	"testing"
)

func TestBuildResponseOKKeepAlive(t *testing.T) {
	buf := make([]byte, WriteBufSize)
	plan, keepAlive, err := BuildResponse(buf, StatusOK, true, nil, 11)
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	if !keepAlive {
		t.Fatal("keepAlive = false, want true")
	}
	header := string(plan.Header)
	if !strings.HasPrefix(header, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("header = %q", header)
	}
	if !strings.Contains(header, "Content-Length: 11\r\n") {
		t.Fatalf("header = %q", header)
	}
	if !strings.Contains(header, "Connection: keep-alive\r\n") {
		t.Fatalf("header = %q", header)
	}
	if !strings.HasSuffix(header, "\r\n\r\n") {
		t.Fatalf("header missing terminating blank line: %q", header)
	}
}

func TestBuildResponseZeroLengthFilePlaceholderBody(t *testing.T) {
	buf := make([]byte, WriteBufSize)
	plan, _, err := BuildResponse(buf, StatusOK, true, nil, 0)
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	if !strings.Contains(string(plan.Header), "Content-Length: "+itoa(len(zeroLengthBody))) {
		t.Fatalf("header = %q", string(plan.Header))
	}
	if !strings.HasSuffix(string(plan.Header), zeroLengthBody) {
		t.Fatalf("placeholder body not appended: %q", string(plan.Header))
	}
	if plan.Body != nil {
		t.Fatal("zero-length file should not produce a separate body range")
	}
}

func TestBuildResponseErrorsForceConnectionClose(t *testing.T) {
	for _, st := range []Status{StatusBadRequest, StatusForbidden, StatusNotFound, StatusInternalServerError} {
		buf := make([]byte, WriteBufSize)
		plan, keepAlive, err := BuildResponse(buf, st, true, nil, 0)
		if err != nil {
			t.Fatalf("status %d: BuildResponse: %v", st, err)
		}
		if keepAlive {
			t.Fatalf("status %d: keepAlive = true, want false", st)
		}
		if !strings.Contains(string(plan.Header), "Connection: close\r\n") {
			t.Fatalf("status %d: header = %q", st, string(plan.Header))
		}
		if !strings.HasSuffix(string(plan.Header), cannedBodies[st]) {
			t.Fatalf("status %d: canned body missing: %q", st, string(plan.Header))
		}
	}
}

func TestBuildResponseFileBackedPlanHasTwoRanges(t *testing.T) {
	buf := make([]byte, WriteBufSize)
	fileBytes := []byte("hello world")
	plan, keepAlive, err := BuildResponse(buf, StatusOK, true, fileBytes, int64(len(fileBytes)))
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	if !keepAlive {
		t.Fatal("keepAlive = false, want true")
	}
	if string(plan.Body) != "hello world" {
		t.Fatalf("Body = %q", plan.Body)
	}
	if plan.Total() != len(plan.Header)+len(fileBytes) {
		t.Fatal("Total() mismatch")
	}
}

func TestBuildResponseOverflowRejected(t *testing.T) {
	buf := make([]byte, 10) // far too small for any real response
	_, _, err := BuildResponse(buf, StatusNotFound, true, nil, 0)
	if err == nil || !IsOverflow(err) {
		t.Fatalf("err = %v, want overflow error", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
