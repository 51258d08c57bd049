package syncnet

// packet is one synchronization message in flight between two neighbors,
// carried word-by-word (one data_width-bit word per cycle) over the bus.
// Grounded on SyncPacket in synchronization.py.
type packet struct {
	ident int
	value *int // nil means no value riding along
}

// toWords serializes p into dataWidth-bit words: word 0 holds ident
// (which must fit in identWidth <= dataWidth bits), and if a value is
// present, it is packed immediately above the ident bits and the result
// split across as many additional words as it takes. A caller elsewhere
// appends the bus's own last_word flag bit; toWords only produces the
// data payload.
func (p packet) toWords(dataWidth, identWidth int) []uint64 {
	var totalBits int
	var combined uint64

	if p.value != nil {
		nValueBytes := valueByteWidth(*p.value)
		totalBits = identWidth + nValueBytes*8
		combined = uint64(p.ident) | uint64(uint32(*p.value))<<uint(identWidth)
	} else {
		totalBits = identWidth
		combined = uint64(p.ident)
	}

	nWords := (totalBits + dataWidth - 1) / dataWidth
	if nWords < 1 {
		nWords = 1
	}
	words := make([]uint64, nWords)
	mask := uint64(1)<<uint(dataWidth) - 1
	for i := range words {
		words[i] = (combined >> uint(i*dataWidth)) & mask
	}
	return words
}

// valueByteWidth is the number of bytes needed to hold v (at least 1,
// even for v == 0, since "no value" is represented by a nil pointer, not
// by a zero-length encoding).
func valueByteWidth(v int) int {
	n := 1
	for uv := uint32(v); uv>>uint(n*8) != 0; n++ {
	}
	return n
}

// packetFromWords is the inverse of toWords: it reassembles the ident and
// (if more than one word was supplied) the value from a complete run of
// words popped off the bus.
func packetFromWords(words []uint64, dataWidth, identWidth int) packet {
	var combined uint64
	for i, w := range words {
		combined |= w << uint(i*dataWidth)
	}
	identMask := uint64(1)<<uint(identWidth) - 1
	ident := int(combined & identMask)

	if len(words) <= 1 {
		return packet{ident: ident}
	}
	v := int(combined >> uint(identWidth))
	return packet{ident: ident, value: &v}
}
