package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// Read retry tuning. A freshly uploaded object can briefly be invisible to
// readers, so missing keys are retried before failing.
const (
	readRetries    = 3
	readRetryDelay = 100 * time.Millisecond
)

// Mode describes a parsed open mode string. The grammar follows the usual
// file-open convention: one of r/w/a/x, optionally + for read-write and b
// for binary.
type Mode struct {
	Base     byte // 'r', 'w', 'a' or 'x'
	Plus     bool
	Binary   bool
	Readable bool
	Writable bool
}

// ParseMode validates and parses an open mode string
func ParseMode(s string) (Mode, error) {
	if s == "" {
		s = "r"
	}
	m := Mode{Base: s[0]}
	switch m.Base {
	case 'r':
		m.Readable = true
	case 'w', 'a', 'x':
		m.Writable = true
	default:
		return Mode{}, fmt.Errorf("invalid open mode %q", s)
	}
	for _, c := range s[1:] {
		switch c {
		case '+':
			m.Plus = true
			m.Readable = true
			m.Writable = true
		case 'b':
			m.Binary = true
		case 't':
			// text is the default
		default:
			return Mode{}, fmt.Errorf("invalid open mode %q", s)
		}
	}
	return m, nil
}

// File is a file-like handle over one object. Reads in plain "r" mode stream
// straight from the store; every other mode works on an in-memory buffer
// that is uploaded when the handle is closed.
type File struct {
	mgr    *Manager
	bucket string
	key    string
	mode   Mode

	reader io.ReadCloser // streaming, plain "r" only
	buf    []byte
	pos    int
	dirty  bool
	closed bool
}

// Open opens an object with file-open semantics:
//
//	r   read, object must exist
//	w   write, truncate
//	a   write, append to existing content
//	x   write, fail with ErrExist when the object exists
//
// Add + for read-write and b for binary.
func (m *Manager) Open(ctx context.Context, bucket, key, modeStr string) (*File, error) {
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	f := &File{mgr: m, bucket: bucket, key: key, mode: mode}

	switch mode.Base {
	case 'r':
		if mode.Plus {
			data, err := m.getWithRetry(ctx, bucket, key)
			if err != nil {
				return nil, err
			}
			f.buf = data
		} else {
			reader, err := m.openWithRetry(ctx, bucket, key)
			if err != nil {
				return nil, err
			}
			f.reader = reader
		}
	case 'w':
		// truncate
	case 'a':
		data, err := m.getWithRetry(ctx, bucket, key)
		if err != nil && err != ErrNotExist {
			return nil, err
		}
		f.buf = data
		f.pos = len(data)
	case 'x':
		if _, err := m.Stat(ctx, bucket, key); err == nil {
			return nil, ErrExist
		} else if err != ErrNotExist {
			return nil, err
		}
	}
	return f, nil
}

func (m *Manager) openWithRetry(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	var err error
	for i := 0; i < readRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(readRetryDelay):
			}
		}
		var r io.ReadCloser
		r, err = m.Get(ctx, bucket, key)
		if err == nil {
			return r, nil
		}
		if err != ErrNotExist {
			return nil, err
		}
	}
	return nil, err
}

func (m *Manager) getWithRetry(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := m.openWithRetry(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Mode returns the parsed open mode
func (f *File) Mode() Mode {
	return f.mode
}

// Read reads from the stream or buffer
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("read on closed handle %s/%s", f.bucket, f.key)
	}
	if !f.mode.Readable {
		return 0, fmt.Errorf("%s/%s not opened for reading", f.bucket, f.key)
	}
	if f.reader != nil {
		return f.reader.Read(p)
	}
	if f.pos >= len(f.buf) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.pos:])
	f.pos += n
	return n, nil
}

// ReadAll reads the remaining content
func (f *File) ReadAll() ([]byte, error) {
	if f.reader != nil {
		return io.ReadAll(f)
	}
	if !f.mode.Readable {
		return nil, fmt.Errorf("%s/%s not opened for reading", f.bucket, f.key)
	}
	data := f.buf[f.pos:]
	f.pos = len(f.buf)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write writes into the buffer at the current position
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("write on closed handle %s/%s", f.bucket, f.key)
	}
	if !f.mode.Writable {
		return 0, fmt.Errorf("%s/%s not opened for writing", f.bucket, f.key)
	}
	if end := f.pos + len(p); end > len(f.buf) {
		f.buf = append(f.buf, make([]byte, end-len(f.buf))...)
	}
	copy(f.buf[f.pos:], p)
	f.pos += len(p)
	f.dirty = true
	return len(p), nil
}

// Seek moves the buffer position. Streaming read handles do not seek.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.reader != nil {
		return 0, fmt.Errorf("%s/%s: streaming handle does not seek", f.bucket, f.key)
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(f.pos) + offset
	case io.SeekEnd:
		pos = int64(len(f.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("negative seek position %d", pos)
	}
	f.pos = int(pos)
	return pos, nil
}

// Close releases the handle. Written content is uploaded here; nothing is
// visible in the store before Close returns.
func (f *File) Close(ctx context.Context) error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.reader != nil {
		return f.reader.Close()
	}
	if !f.mode.Writable || !f.dirty && f.mode.Base == 'r' {
		return nil
	}
	contentType := mime.TypeByExtension(path.Ext(f.key))
	if contentType == "" {
		if f.mode.Binary {
			contentType = "application/octet-stream"
		} else {
			contentType = "text/plain"
		}
	}
	err := f.mgr.Put(ctx, f.bucket, f.key, bytes.NewReader(f.buf), int64(len(f.buf)), contentType)
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s on close: %w", f.bucket, f.key, err)
	}
	return nil
}

// Name returns the object key
func (f *File) Name() string {
	return f.key
}

// String implements fmt.Stringer for log output
func (f *File) String() string {
	mode := string(f.mode.Base)
	if f.mode.Plus {
		mode += "+"
	}
	if f.mode.Binary {
		mode += "b"
	}
	return strings.Join([]string{f.bucket, f.key}, "/") + " (" + mode + ")"
}
