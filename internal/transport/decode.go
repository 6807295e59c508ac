package transport

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
)

// Decode reads the whole response body, unwraps any advertised compression
// and returns the decoded UTF-8 bytes. The body is closed exactly once,
// whether decoding succeeds or fails. Partial output is never returned.
func Decode(resp *Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, geoerrors.NewInternalError("decode called without a response body", nil)
	}
	defer resp.Body.Close()

	buf := bytes.NewBuffer(make([]byte, 0, bytes.MinRead))
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, geoerrors.NewTransportError(geoerrors.CodeProtocolFault, "failed to read response body", err)
	}

	data, err := decompress(resp.Encoding(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	if !utf8.Valid(data) {
		return nil, geoerrors.NewDecodeError(geoerrors.CodeInvalidEncoding, "response body is not valid UTF-8", nil)
	}
	return data, nil
}

func decompress(encoding string, raw []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)

	switch encoding {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		out, err = gunzip(raw)
	case "deflate":
		out, err = inflate(raw)
	case "zstd":
		out, err = unzstd(raw)
	case "snappy", "x-snappy-framed":
		out, err = unsnappy(raw)
	default:
		return nil, geoerrors.NewDecodeError(geoerrors.CodeUnsupportedEncoding,
			fmt.Sprintf("unsupported content encoding %q", encoding), nil)
	}

	if err != nil {
		return nil, geoerrors.NewDecodeError(geoerrors.CodeDecompressFailed,
			fmt.Sprintf("failed to decompress %s response", encoding), err)
	}
	return out, nil
}

func gunzip(raw []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// inflate handles both zlib-wrapped deflate (what the RFC says) and raw
// deflate (what some servers send anyway).
func inflate(raw []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
		out, readErr := io.ReadAll(zr)
		zr.Close()
		if readErr == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()
	return io.ReadAll(fr)
}

// snappyStreamMagic opens every framed snappy stream.
var snappyStreamMagic = []byte("\xff\x06\x00\x00sNaPpY")

// unsnappy accepts the framed stream format and falls back to the block
// format when the stream identifier is absent.
func unsnappy(raw []byte) ([]byte, error) {
	if bytes.HasPrefix(raw, snappyStreamMagic) {
		return io.ReadAll(snappy.NewReader(bytes.NewReader(raw)))
	}
	return snappy.Decode(nil, raw)
}

func unzstd(raw []byte) ([]byte, error) {
	d, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return io.ReadAll(d)
}
