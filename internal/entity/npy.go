package entity

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Embedding vectors are stored as NPY v1.0 blobs (little-endian float64,
// one dimension) so analytics tooling can load them directly.

var npyMagic = []byte("\x93NUMPY\x01\x00")

var npyShapeRe = regexp.MustCompile(`'shape':\s*\((\d+),?\)`)

// encodeNpy serializes a vector as an NPY v1.0 array.
func encodeNpy(vec []float64) []byte {
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d,), }", len(vec))
	// pad so the data section starts on a 64-byte boundary
	total := len(npyMagic) + 2 + len(header) + 1
	if pad := 64 - total%64; pad < 64 {
		header += string(bytes.Repeat([]byte{' '}, pad))
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write(npyMagic)
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, v := range vec {
		binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
	}
	return buf.Bytes()
}

// decodeNpy parses an NPY v1.0 array of float64 back into a vector.
func decodeNpy(data []byte) ([]float64, error) {
	if len(data) < len(npyMagic)+2 || !bytes.Equal(data[:len(npyMagic)], npyMagic) {
		return nil, fmt.Errorf("not an npy v1.0 blob")
	}
	headerLen := int(binary.LittleEndian.Uint16(data[len(npyMagic):]))
	bodyStart := len(npyMagic) + 2 + headerLen
	if bodyStart > len(data) {
		return nil, fmt.Errorf("npy header truncated")
	}
	header := string(data[len(npyMagic)+2 : bodyStart])

	m := npyShapeRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("npy header missing shape: %q", header)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, err
	}

	body := data[bodyStart:]
	if len(body) < n*8 {
		return nil, fmt.Errorf("npy body has %d bytes, want %d", len(body), n*8)
	}
	vec := make([]float64, n)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
	}
	return vec, nil
}
