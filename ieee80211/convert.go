package ieee80211

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/umacif/rxpath/nbuf"
)

// amsduSubframeHeaderLen is DA, SA and the MSDU length.
const amsduSubframeHeaderLen = 2*EthAlen + 2

// ConvertMPDU rewrites the frame in buf, an 802.11 data frame, into an
// Ethernet frame in place. macHdrLen is the MAC header length reported by the
// radio, 0 derives it from the frame itself.
func ConvertMPDU(buf *nbuf.Buffer, macHdrLen int) error {
	data := buf.Data()
	hdr, err := ParseHeader(data)
	if err != nil {
		return err
	}
	if macHdrLen == 0 {
		macHdrLen = hdr.Len
	}
	if macHdrLen > len(data) {
		return fmt.Errorf("%w: mac header of %d bytes in %d byte frame", ErrTruncated, macHdrLen, len(data))
	}

	etherType, skip := SNAPEtherType(data[macHdrLen:])
	dst, src := hdr.EthernetAddrs()

	if err := buf.Pull(macHdrLen + skip); err != nil {
		return err
	}
	return pushEthernetHeader(buf, dst, src, etherType, skip)
}

func pushEthernetHeader(buf *nbuf.Buffer, dst, src net.HardwareAddr, etherType uint16, skip int) error {
	proto := etherType
	if skip == 0 {
		proto = uint16(buf.Len())
	}

	h, err := buf.Push(EthHeaderLen)
	if err != nil {
		return err
	}
	PutEthernetHeader(h, dst, src, proto)
	return nil
}

// Subframe is one MSDU of an A-MSDU.
type Subframe struct {
	Dst net.HardwareAddr
	Src net.HardwareAddr
	// Body is the MSDU, starting with its LLC header.
	Body []byte
	// offset of the sub-frame header from the start of the aggregate.
	offset int
}

// SplitAMSDU walks the sub-frames of an A-MSDU. Every sub-frame but the last is
// padded to a multiple of 4 bytes. Addresses are copies, Body aliases data.
func SplitAMSDU(data []byte) ([]Subframe, error) {
	var out []Subframe
	off := 0
	for off < len(data) {
		if len(data)-off < amsduSubframeHeaderLen {
			return nil, fmt.Errorf("%w: sub-frame header at %d of %d bytes", ErrTruncated, off, len(data))
		}

		l := int(binary.BigEndian.Uint16(data[off+2*EthAlen : off+amsduSubframeHeaderLen]))
		end := off + amsduSubframeHeaderLen + l
		if end > len(data) {
			return nil, fmt.Errorf("%w: sub-frame at %d claims %d bytes, %d left", ErrTruncated, off, l, len(data)-off-amsduSubframeHeaderLen)
		}

		out = append(out, Subframe{
			Dst:    cloneAddr(data[off : off+EthAlen]),
			Src:    cloneAddr(data[off+EthAlen : off+2*EthAlen]),
			Body:   data[off+amsduSubframeHeaderLen : end],
			offset: off,
		})

		off = (end + 3) &^ 3
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty A-MSDU", ErrTruncated)
	}
	return out, nil
}

// ConvertAMSDU turns the A-MSDU in buf into one Ethernet frame per sub-frame.
// The first frame reuses buf, the others are copied into buffers from alloc
// with headroom bytes in front. On error every copy is freed again and buf
// still belongs to the caller.
func ConvertAMSDU(buf *nbuf.Buffer, alloc nbuf.Allocator, headroom int) ([]*nbuf.Buffer, error) {
	subs, err := SplitAMSDU(buf.Data())
	if err != nil {
		return nil, err
	}

	out := make([]*nbuf.Buffer, 1, len(subs))
	fail := func(err error) ([]*nbuf.Buffer, error) {
		for _, b := range out[1:] {
			alloc.Free(b)
		}
		return nil, err
	}

	// Copies first, the in place rewrite of the first sub-frame must not
	// happen before the others were read.
	for _, sf := range subs[1:] {
		etherType, skip := SNAPEtherType(sf.Body)
		nb := nbuf.Copy(alloc, sf.Body[skip:], headroom+EthHeaderLen)
		if nb == nil {
			return fail(fmt.Errorf("%w: %d bytes", ErrNoMemory, len(sf.Body)))
		}
		out = append(out, nb)
		if err := pushEthernetHeader(nb, sf.Dst, sf.Src, etherType, skip); err != nil {
			return fail(err)
		}
	}

	first := subs[0]
	etherType, skip := SNAPEtherType(first.Body)
	if err := buf.Pull(first.offset + amsduSubframeHeaderLen + skip); err != nil {
		return fail(err)
	}
	if err := buf.Trim(len(first.Body) - skip); err != nil {
		return fail(err)
	}
	if err := pushEthernetHeader(buf, first.Dst, first.Src, etherType, skip); err != nil {
		return fail(err)
	}

	out[0] = buf
	return out, nil
}
