package darkstar

import (
	"errors"
	"io"

	"github.com/samber/oops"
)

// readExactly reads n bytes or fails. A short read is never padded.
func readExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, oops.Wrapf(ErrShortRead, "wanted %d bytes: %v", n, err)
		}
		return nil, err
	}
	return buf, nil
}

func writeAll(w io.Writer, parts ...[]byte) error {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	_, err := w.Write(buf)
	return err
}
