package cap

import (
	"crypto/rand"
	"encoding/binary"
)

// generateISN draws a uniformly distributed initial sequence number
// from crypto/rand rather than math/rand, so concurrent connections on
// the same process don't share a predictable PRNG stream.
func generateISN() (uint32, error) {
	var isn uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &isn); err != nil {
		return 0, err
	}
	return isn, nil
}
