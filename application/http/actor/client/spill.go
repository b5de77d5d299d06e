package client

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// spill collects a body in memory and moves it to a temporary file once
// it grows past the threshold.
type spill struct {
	fs   afero.Fs
	opts SpillOptions

	buf  bytes.Buffer
	file afero.File
	n    int64
}

// newSpill starts on disk right away when the declared length is already
// over the threshold. A negative declared length means unknown.
func newSpill(fs afero.Fs, opts SpillOptions, declared int64) (*spill, error) {
	sp := &spill{fs: fs, opts: opts}
	if declared > opts.Threshold {
		if err := sp.toFile(); err != nil {
			return nil, err
		}
	}
	return sp, nil
}

func (sp *spill) Write(p []byte) (int, error) {
	if sp.file == nil && int64(sp.buf.Len()+len(p)) > sp.opts.Threshold {
		if err := sp.toFile(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)
	if sp.file != nil {
		n, err = sp.file.Write(p)
	} else {
		n, err = sp.buf.Write(p)
	}
	sp.n += int64(n)
	return n, err
}

func (sp *spill) toFile() error {
	f, err := afero.TempFile(sp.fs, sp.opts.Dir, "hx-body-*")
	if err != nil {
		return errors.Wrap(err, "creating spill file")
	}

	if _, err := f.Write(sp.buf.Bytes()); err != nil {
		_ = f.Close()
		_ = sp.fs.Remove(f.Name())
		return errors.Wrap(err, "moving body to spill file")
	}

	sp.buf = bytes.Buffer{}
	sp.file = f
	return nil
}

func (sp *spill) spilled() bool { return sp.file != nil }

// body returns the collected content. A file body keeps the length that
// was written to it and is rewound before it is sent.
func (sp *spill) body() Body {
	if sp.file == nil {
		return BufferBody(sp.buf.Bytes())
	}
	return sizedSource(sp.file, sp.n)
}

func (sp *spill) Close() error {
	if sp.file == nil {
		return nil
	}

	name := sp.file.Name()
	err := sp.file.Close()
	if rmErr := sp.fs.Remove(name); err == nil {
		err = rmErr
	}
	sp.file = nil

	return errors.Wrap(err, "removing spill file")
}
