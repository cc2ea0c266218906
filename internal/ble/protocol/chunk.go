// internal/ble/protocol/chunk.go
package protocol

// Chunk splits data into consecutive fragments of at most size bytes so a
// payload larger than the link MTU can be written as several packets.
// A size <= 0 disables fragmentation. Returns nil for empty data.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := size
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}
