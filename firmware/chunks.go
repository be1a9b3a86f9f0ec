package firmware

import "fmt"

// Chunk is one piece of a firmware image write plan. Offset is relative to
// the start of the image; the flash address is the hub's flash start plus
// the offset.
type Chunk struct {
	// Offset is the image offset of this chunk
	Offset uint32

	// Payload is the chunk data, at most the requested chunk size
	Payload []byte
}

// Chunks splits an image into a write plan. Offsets are strictly
// increasing, the chunks cover the image exactly, and only the final chunk
// may be shorter than chunkSize. Payloads alias the given image.
func Chunks(image []byte, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	chunks := make([]Chunk, 0, (len(image)+chunkSize-1)/chunkSize)
	for off := 0; off < len(image); off += chunkSize {
		end := off + chunkSize
		if end > len(image) {
			end = len(image)
		}
		chunks = append(chunks, Chunk{Offset: uint32(off), Payload: image[off:end]})
	}

	return chunks, nil
}
