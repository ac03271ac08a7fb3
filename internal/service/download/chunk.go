package download

import (
	"fmt"
	"net/url"
	"path"
)

// Range is an inclusive byte range of the archive.
type Range struct {
	// Start is the offset of the first byte.
	Start int64
	// End is the offset of the last byte.
	End int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Header renders the range as a Range header value.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ChunkRanges partitions [0, length) into consecutive ranges of at most size bytes.
// Chunk i starts at i*size.
func ChunkRanges(length, size int64) []Range {
	if length <= 0 || size <= 0 {
		return nil
	}

	ranges := make([]Range, 0, (length+size-1)/size)

	for start := int64(0); start < length; start += size {
		ranges = append(ranges, Range{
			Start: start,
			End:   min(start+size, length) - 1,
		})
	}

	return ranges
}

// ObjectURL joins the store base URL and an object name.
func ObjectURL(storeURL, name string) (string, error) {
	objectURL, err := url.Parse(storeURL)
	if err != nil {
		return "", fmt.Errorf("parse store url: %w", err)
	}

	// Use path.Join to normalize duplicate slashes when composing the URL path.
	objectURL.Path = path.Join(objectURL.Path, name)

	return objectURL.String(), nil
}
