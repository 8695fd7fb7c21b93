package gtexetl

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"compress/zlib"
	"io"
	"os"

	"github.com/carbocation/pfx"
	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

// Compression identifies the compression applied to a stream, detected
// from its leading magic bytes rather than any filename extension.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZip
	CompressionXZ
	CompressionZlib
	CompressionBZip2
)

// magicBytes holds the leading signatures for each recognized format.
// The gzip signature is the two-byte 0x1f 0x8b sequence, so a gzip
// member is recognized regardless of the deflate flag byte. Zlib has
// one CMF/FLG pair per compression level; the three listed cover every
// level the stdlib writer emits.
var magicBytes = map[Compression][][]byte{
	CompressionGzip:  {{0x1f, 0x8b}},
	CompressionZip:   {{0x50, 0x4b, 0x03, 0x04}},
	CompressionXZ:    {{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
	CompressionZlib:  {{0x78, 0x01}, {0x78, 0x9c}, {0x78, 0xda}},
	CompressionBZip2: {{0x42, 0x5a, 0x68}},
}

// DetectCompression peeks at the first bytes of r without consuming
// them and reports which compression format, if any, they announce.
func DetectCompression(r *bufio.Reader) (Compression, error) {
	head, err := r.Peek(6)
	if err != nil && err != io.EOF {
		return CompressionNone, pfx.Err(err)
	}

	for comp, sigs := range magicBytes {
	Sigs:
		for _, sig := range sigs {
			if len(head) < len(sig) {
				continue
			}
			for i := range sig {
				if head[i] != sig[i] {
					continue Sigs
				}
			}
			return comp, nil
		}
	}

	return CompressionNone, nil
}

// OpenSmart opens the named file and returns a reader over its
// uncompressed content. Users rename or re-save these inputs often
// enough that a .gz suffix on a plain file (or the reverse) has to be
// tolerated, so the format comes from the content, never the name.
func OpenSmart(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}

	rc, err := MaybeDecompress(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &smartReadCloser{Reader: rc, file: f}, nil
}

// MaybeDecompress wraps r in the decompressor its leading bytes call
// for, or returns a passthrough reader when no signature matches.
func MaybeDecompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	comp, err := DetectCompression(br)
	if err != nil {
		return nil, err
	}

	switch comp {
	case CompressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return gz, nil
	case CompressionZip:
		return zipstream.NewReader(br), nil
	case CompressionBZip2:
		return bzip2.NewReader(br), nil
	case CompressionXZ:
		xzr, err := xz.NewReader(br, 0)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return xzr, nil
	case CompressionZlib:
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, pfx.Err(err)
		}
		return zr, nil
	}

	return br, nil
}

// smartReadCloser closes the underlying file when the consumer is done
// with the (possibly decompressing) reader on top of it.
type smartReadCloser struct {
	io.Reader
	file *os.File
}

// Close closes the decompressor (whose Close reports stream errors
// such as a corrupt trailing gzip member) and then the file, returning
// the first error seen.
func (s *smartReadCloser) Close() error {
	var err error
	if c, ok := s.Reader.(io.Closer); ok {
		err = c.Close()
	}
	if ferr := s.file.Close(); err == nil {
		err = ferr
	}
	return err
}
