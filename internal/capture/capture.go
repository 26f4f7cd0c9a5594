// Package capture pulls VRT packets out of UDP datagrams recorded in pcap or
// pcapng files. It reads recordings offline only.
package capture

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/vrt"
)

const pcapngMagic = 0x0A0D0D0A

// Options selects datagrams. A zero Port accepts every UDP datagram; else
// either the source or destination port must match.
type Options struct {
	Port uint16
}

// Stats counts what Extract saw.
type Stats struct {
	Frames    int
	Datagrams int
	Packets   int
	Rejected  int
	Bytes     int64
	// SHA256 is the digest of the written file, set by ExtractFile.
	SHA256 string
}

// HandlerFunc receives each decoded packet with its wire bytes.
type HandlerFunc func(p *vrt.Packet, raw []byte) error

// Extract reads a pcap or pcapng stream and calls fn for every VRT packet in
// the matching UDP payloads. A datagram may carry several packets back to
// back; one undecodable packet discards the whole datagram.
func Extract(r io.Reader, opts Options, fn HandlerFunc) (Stats, error) {
	var st Stats
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return st, errors.Wrap(err, "read capture header")
	}
	var src gopacket.PacketDataSource
	var link layers.LinkType
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return st, errors.Wrap(err, "open pcapng")
		}
		src, link = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return st, errors.Wrap(err, "open pcap")
		}
		src, link = pr, pr.LinkType()
	}

	ps := gopacket.NewPacketSource(src, link)
	ps.DecodeOptions = gopacket.DecodeOptions{Lazy: true}
	for {
		frame, err := ps.NextPacket()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, errors.Wrapf(err, "frame %d", st.Frames)
		}
		st.Frames++
		udpLayer := frame.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if opts.Port != 0 && uint16(udp.DstPort) != opts.Port && uint16(udp.SrcPort) != opts.Port {
			continue
		}
		st.Datagrams++
		if err := extractDatagram(udp.Payload, st.Frames-1, &st, fn); err != nil {
			return st, err
		}
	}
}

// extractDatagram hands the packets of one datagram to fn only when the whole
// payload frames and decodes.
func extractDatagram(payload []byte, frame int, st *Stats, fn HandlerFunc) error {
	type framed struct {
		p   *vrt.Packet
		raw []byte
	}
	var packets []framed
	for off := 0; off < len(payload); {
		p, n, err := vrt.DecodeFrom(payload[off:])
		if err != nil {
			st.Rejected++
			common.Logf("frame %d: datagram offset %d: %v", frame, off, err)
			return nil
		}
		packets = append(packets, framed{p, payload[off : off+n]})
		off += n
	}
	for _, f := range packets {
		st.Packets++
		st.Bytes += int64(len(f.raw))
		if err := fn(f.p, f.raw); err != nil {
			return errors.Wrapf(err, "frame %d", frame)
		}
	}
	return nil
}

// ExtractFile converts the recording at in into a .vrt file at out.
func ExtractFile(in, out string, opts Options) (Stats, error) {
	f, err := os.Open(in)
	if err != nil {
		return Stats{}, errors.Wrap(err, "open recording")
	}
	defer f.Close()
	dst, err := os.Create(out)
	if err != nil {
		return Stats{}, errors.Wrap(err, "create output")
	}
	bw := bufio.NewWriter(dst)
	h := common.NewHasher()
	w := vrt.NewWriter(io.MultiWriter(bw, h))
	st, err := Extract(f, opts, func(p *vrt.Packet, _ []byte) error {
		return w.WritePacket(p)
	})
	if err != nil {
		dst.Close()
		return st, err
	}
	if err := bw.Flush(); err != nil {
		dst.Close()
		return st, errors.Wrap(err, "write output")
	}
	st.SHA256 = h.Sum()
	return st, errors.Wrap(dst.Close(), "close output")
}
