package ieee80211

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// BSS is what a beacon or probe response says about the network that sent it.
type BSS struct {
	BSSID   net.HardwareAddr
	SSID    string
	Channel uint8
}

// ieHeaderLen is the element id and length byte in front of every
// information element.
const ieHeaderLen = 2

// ParseBSS extracts the BSSID, SSID and DS channel from a beacon or probe
// response without FCS. ok is false for anything else.
func ParseBSS(frame []byte) (bss BSS, ok bool) {
	hdr, err := ParseHeader(frame)
	if err != nil {
		return bss, false
	}
	if hdr.Type != layers.Dot11TypeMgmtBeacon && hdr.Type != layers.Dot11TypeMgmtProbeResp {
		return bss, false
	}

	// Probe responses share the beacon's fixed fields.
	var b layers.Dot11MgmtBeacon
	if err := b.DecodeFromBytes(frame[hdr.Len:], gopacket.NilDecodeFeedback); err != nil {
		return bss, false
	}

	bss.BSSID = hdr.Addr3
	walkIEs(b.Payload, func(id layers.Dot11InformationElementID, info []byte) {
		switch id {
		case layers.Dot11InformationElementIDSSID:
			bss.SSID = string(info)
		case layers.Dot11InformationElementIDDSSet:
			if len(info) > 0 {
				bss.Channel = info[0]
			}
		}
	})

	return bss, true
}

// walkIEs calls fn for every information element in ies. A truncated trailing
// element ends the walk.
func walkIEs(ies []byte, fn func(id layers.Dot11InformationElementID, info []byte)) {
	for len(ies) >= ieHeaderLen {
		l := int(ies[1])
		if len(ies) < ieHeaderLen+l {
			return
		}
		fn(layers.Dot11InformationElementID(ies[0]), ies[ieHeaderLen:ieHeaderLen+l])
		ies = ies[ieHeaderLen+l:]
	}
}
