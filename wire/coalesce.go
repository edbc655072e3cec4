package wire

// MaxPayloadBytes is the default MTU-bounded datagram size; callers
// may pass a different MTU to Coalesce when config overrides it.
const MaxPayloadBytes = 1472

// Coalesce greedily packs encoded packets into MTU-bounded datagrams,
// preserving order. Each packets[i] must already be wire.Encode'd.
func Coalesce(packets [][]byte, mtu int) [][]byte {
	var datagrams [][]byte
	var current []byte
	for _, pkt := range packets {
		if len(current)+len(pkt) > mtu && len(current) > 0 {
			datagrams = append(datagrams, current)
			current = nil
		}
		current = append(current, pkt...)
	}
	if len(current) > 0 {
		datagrams = append(datagrams, current)
	}
	return datagrams
}

// Split decodes every packet out of a single datagram, in order, stopping
// only when the datagram is fully consumed. Any trailing partial packet
// yields ErrTruncated.
func Split(datagram []byte) ([]Packet, error) {
	var packets []Packet
	for len(datagram) > 0 {
		p, n, err := Decode(datagram)
		if err == ErrBufferTooSmall {
			// Fewer trailing bytes than a header are still a partial packet.
			err = ErrTruncated
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
		datagram = datagram[n:]
	}
	return packets, nil
}
