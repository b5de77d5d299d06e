// Package iolib has io helpers for writers that may accept partial writes.
package iolib

import "io"

// WriteFull keeps writing until buf is consumed or w fails.
// A writer reporting no progress without an error is treated as [io.ErrShortWrite].
func WriteFull(w io.Writer, buf []byte) (uint, error) {
	total := uint(0)
	for total < uint(len(buf)) {
		n, err := w.Write(buf[total:])
		total += uint(n)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
