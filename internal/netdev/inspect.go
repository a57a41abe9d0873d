package netdev

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/capsys/netd/internal/logging"
)

// frameInspector decodes Ethernet frames for Debug-level logging only;
// a decode failure is swallowed since this path is diagnostic, never on
// the data path itself (grounded on yerden/go-snf's use of gopacket for
// non-critical capture introspection).
type frameInspector struct {
	eth layers.Ethernet
}

func newFrameInspector() *frameInspector { return &frameInspector{} }

func (fi *frameInspector) logRx(log *logging.Logger, frame []byte) {
	fi.log(log, "rx", frame)
}

func (fi *frameInspector) logTx(log *logging.Logger, frame []byte) {
	fi.log(log, "tx", frame)
}

func (fi *frameInspector) log(log *logging.Logger, dir string, frame []byte) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return
	}
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return
	}
	log.Debug("frame", "dir", dir, "src", eth.SrcMAC.String(), "dst", eth.DstMAC.String(),
		"ethertype", eth.EthernetType.String(), "bytes", len(frame))
}
