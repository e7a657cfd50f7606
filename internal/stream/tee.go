package stream

import (
	"errors"
	"io"
)

// ErrClientClosed reaches the analytics side of a tee when the body was
// closed before upstream finished sending it.
var ErrClientClosed = errors.New("response body closed before end of stream")

// TeeReadCloser passes an upstream response body to the client while
// copying every byte into a pipe for the event pipeline.
type TeeReadCloser struct {
	reader io.Reader
	body   io.ReadCloser
	pw     *io.PipeWriter
}

// TeeBody splits body in two. The client reads the returned TeeReadCloser;
// the analytics reader sees the same bytes, then io.EOF, the upstream read
// error, or ErrClientClosed. The analytics reader must be drained, or the
// client side blocks.
func TeeBody(body io.ReadCloser) (*TeeReadCloser, *io.PipeReader) {
	pr, pw := io.Pipe()
	return &TeeReadCloser{
		reader: io.TeeReader(body, pw),
		body:   body,
		pw:     pw,
	}, pr
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if err != nil {
		cause := err
		if errors.Is(err, io.EOF) {
			cause = nil // reader sees io.EOF
		}
		t.pw.CloseWithError(cause)
	}
	return n, err
}

// Close closes the upstream body. The pipe keeps the first close reason,
// so a body that already hit EOF still reports a clean end.
func (t *TeeReadCloser) Close() error {
	t.pw.CloseWithError(ErrClientClosed)
	return t.body.Close()
}
