package vrt

// PacketIndex is the per-packet metadata collected while scanning a file.
type PacketIndex struct {
	Offset       int64
	Type         PacketType
	StreamID     uint32
	HasStreamID  bool
	Words        uint16
	PacketCount  uint8
	HasClassID   bool
	ClassID      ClassID
	HasTrailer   bool
	Trailer      Trailer
	TSI          TSI
	TSF          TSF
	Integer      uint32
	Fractional   uint64
	HasTimestamp bool
}

// FileIndex lists every packet of a scanned file in file order.
type FileIndex struct {
	Packets []PacketIndex
}

// Streams returns the distinct stream identifiers in first-seen order.
func (fi FileIndex) Streams() []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, p := range fi.Packets {
		if !p.HasStreamID || seen[p.StreamID] {
			continue
		}
		seen[p.StreamID] = true
		out = append(out, p.StreamID)
	}
	return out
}

func indexPacket(offset int64, p *Packet) PacketIndex {
	idx := PacketIndex{
		Offset:      offset,
		Type:        p.Type(),
		Words:       p.Header.Size(),
		PacketCount: p.Header.PacketCount(),
		TSI:         p.Header.TSI(),
		TSF:         p.Header.TSF(),
	}
	if p.StreamID != nil {
		idx.HasStreamID = true
		idx.StreamID = *p.StreamID
	}
	if p.ClassID != nil {
		idx.HasClassID = true
		idx.ClassID = *p.ClassID
	}
	if p.Trailer != nil {
		idx.HasTrailer = true
		idx.Trailer = *p.Trailer
	}
	if p.Timestamp.Integer != nil {
		idx.HasTimestamp = true
		idx.Integer = *p.Timestamp.Integer
	}
	if p.Timestamp.Fractional != nil {
		idx.HasTimestamp = true
		idx.Fractional = *p.Timestamp.Fractional
	}
	return idx
}
