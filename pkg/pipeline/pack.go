package pipeline

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/google/uuid"
)

// PackedExtension is the on-disk and manifest extension of packed files.
const PackedExtension = ".eupdz"

// Pack deflates data at the maximum zlib level and returns the packed
// bytes together with the CRC-32 of the original contents as eight
// lowercase hex characters.
func Pack(data []byte) (packed []byte, crcHex string, err error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, "", err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("%08x", crc32.ChecksumIEEE(data)), nil
}

// Unpack inflates packed bytes back to the original contents.
func Unpack(packed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// PackedName builds the content-derived file name of a packed file:
// an uppercased v4 UUID joined to the CRC-32 hex with an underscore.
func PackedName(crcHex string) string {
	return strings.ToUpper(uuid.NewString() + "_" + crcHex)
}
