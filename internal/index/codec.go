package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Geometry file layout (little endian):
//
//	[4]byte magic "RGCX"
//	uint16  format version
//	uint16  reserved (zero)
//	uint32  dimensions
//	uint32  record count
//	count * dimensions float32 values, record-major
const (
	geometryMagic   = "RGCX"
	geometryVersion = 1

	// maxDimensions bounds the dimensionality accepted from a header.
	maxDimensions = 1 << 16
)

type geometryHeader struct {
	Magic    [4]byte
	Version  uint16
	Reserved uint16
	Dim      uint32
	Count    uint32
}

// writeGeometry serializes the vectors of records to w. Float values are
// written through math.Float32bits so a later read is bit-for-bit identical.
func writeGeometry(w io.Writer, dim int, records []Record) error {
	bw := bufio.NewWriter(w)
	hdr := geometryHeader{
		Version: geometryVersion,
		Dim:     uint32(dim),          //nolint:gosec // dimensions are bounded by the provider
		Count:   uint32(len(records)), //nolint:gosec // record count fits in uint32
	}
	copy(hdr.Magic[:], geometryMagic)
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, 4*dim)
	for i := range records {
		for j, v := range records[i].Vector {
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write vector %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// readGeometry parses a geometry file holding wantCount vectors of wantDim
// dimensions, as recorded in the manifest. The header must agree with both
// before anything is allocated.
func readGeometry(r io.Reader, wantDim, wantCount int) (int, [][]float32, error) {
	br := bufio.NewReader(r)
	var hdr geometryHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	if string(hdr.Magic[:]) != geometryMagic {
		return 0, nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr.Magic[:])
	}
	if hdr.Version != geometryVersion {
		return 0, nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, hdr.Version)
	}
	if hdr.Dim == 0 || hdr.Dim > maxDimensions {
		return 0, nil, fmt.Errorf("%w: %d dimensions out of range", ErrCorrupt, hdr.Dim)
	}
	if int(hdr.Dim) != wantDim {
		return 0, nil, fmt.Errorf("%w: geometry has %d dimensions, manifest says %d", ErrCorrupt, hdr.Dim, wantDim)
	}
	if int(hdr.Count) != wantCount {
		return 0, nil, fmt.Errorf("%w: %d vectors for %d records", ErrCorrupt, hdr.Count, wantCount)
	}

	dim := int(hdr.Dim)
	count := int(hdr.Count)
	vectors := make([][]float32, count)
	buf := make([]byte, 4*dim)
	for i := range count {
		if _, err := io.ReadFull(br, buf); err != nil {
			return 0, nil, fmt.Errorf("%w: read vector %d of %d: %v", ErrCorrupt, i, count, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		if j := nonFinite(vec); j >= 0 {
			return 0, nil, fmt.Errorf("%w: vector %d component %d is not finite", ErrCorrupt, i, j)
		}
		vectors[i] = vec
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return 0, nil, fmt.Errorf("%w: trailing bytes after %d vectors", ErrCorrupt, count)
	}
	return dim, vectors, nil
}
