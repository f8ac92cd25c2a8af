package middleware

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoggingDefault(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	})

	final := Logging()(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "hello" {
		t.Errorf("expected body 'hello', got %q", rr.Body.String())
	}
}

func TestLoggingSkipPaths(t *testing.T) {
	var handlerCalled bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	cfg := LoggingConfig{SkipPaths: []string{"/health", "/ready"}}
	final := LoggingWithConfig(cfg)(handler)

	t.Run("skipped path passes through", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()
		final.ServeHTTP(rr, req)

		if !handlerCalled {
			t.Error("handler should have been called for skipped path")
		}
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("non-skipped path is logged", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest("GET", "/api/data", nil)
		rr := httptest.NewRecorder()
		final.ServeHTTP(rr, req)

		if !handlerCalled {
			t.Error("handler should have been called for non-skipped path")
		}
	})
}

func TestLoggingResponseWriterWriteHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}

	lrw.WriteHeader(http.StatusNotFound)

	if lrw.Status() != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", lrw.Status())
	}
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected underlying recorder to have status 404, got %d", rr.Code)
	}
}

func TestLoggingResponseWriterWrite(t *testing.T) {
	rr := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rr, status: http.StatusOK}

	data := []byte("hello world")
	n, err := lrw.Write(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes written, got %d", len(data), n)
	}
	if lrw.BytesWritten() != int64(len(data)) {
		t.Errorf("expected BytesWritten()=%d, got %d", len(data), lrw.BytesWritten())
	}

	more := []byte("!!!")
	n2, err := lrw.Write(more)
	if err != nil {
		t.Fatalf("unexpected error on second write: %v", err)
	}
	expected := int64(n + n2)
	if lrw.BytesWritten() != expected {
		t.Errorf("expected BytesWritten()=%d, got %d", expected, lrw.BytesWritten())
	}
}

func TestLoggingResponseWriterBytesWritten(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder(), bytes: 42}
	if lrw.BytesWritten() != 42 {
		t.Errorf("expected 42, got %d", lrw.BytesWritten())
	}
}

type flusherRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flusherRecorder) Flush() { f.flushed = true }

func TestLoggingResponseWriterFlushDelegates(t *testing.T) {
	fr := &flusherRecorder{ResponseRecorder: httptest.NewRecorder()}
	lrw := &loggingResponseWriter{ResponseWriter: fr, status: http.StatusOK}

	lrw.Flush()

	if !fr.flushed {
		t.Error("Flush should delegate to underlying Flusher")
	}
}

func TestLoggingResponseWriterFlushNoFlusher(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: &nonFlusherWriter{header: make(http.Header)}, status: http.StatusOK}
	lrw.Flush()
}

type nonFlusherWriter struct {
	header http.Header
}

func (nf *nonFlusherWriter) Header() http.Header        { return nf.header }
func (nf *nonFlusherWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nf *nonFlusherWriter) WriteHeader(int)             {}

func TestLoggingResponseWriterHijackNotSupported(t *testing.T) {
	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	conn, rw, err := lrw.Hijack()
	if err != http.ErrNotSupported {
		t.Errorf("expected ErrNotSupported, got %v", err)
	}
	if conn != nil {
		t.Error("expected nil conn")
	}
	if rw != nil {
		t.Error("expected nil rw")
	}
}

type hijackableWriter struct {
	http.ResponseWriter
	hijacked bool
}

func (hw *hijackableWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hw.hijacked = true
	server, client := net.Pipe()
	_ = server.Close()
	return client, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func TestLoggingResponseWriterHijackDelegates(t *testing.T) {
	hw := &hijackableWriter{ResponseWriter: httptest.NewRecorder()}
	lrw := &loggingResponseWriter{ResponseWriter: hw, status: http.StatusOK}

	conn, rw, err := lrw.Hijack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn == nil {
		t.Error("expected non-nil conn")
	}
	if rw == nil {
		t.Error("expected non-nil rw")
	}
	if !hw.hijacked {
		t.Error("Hijack should delegate to underlying Hijacker")
	}
	if c, ok := conn.(io.Closer); ok {
		c.Close()
	}
}
