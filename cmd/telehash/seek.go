package main

import (
	tline "github.com/telehash/telehash/pkg/telehash/line"
	"github.com/telehash/telehash/pkg/telehash/log"
	"github.com/telehash/telehash/pkg/telehash/switchd"
)

// registerSeekHandler installs a thin "seek" channel type on sw: any peer
// that opens a seek channel and sends {seek: <hex hashname>} gets back the
// local hashname. It exists to give the sample binary an end-to-end
// channel to exercise; real seek/routing logic is out of scope.
func registerSeekHandler(sw *switchd.Switch) {
	sw.RegisterChannelType("seek", func(typ string, ch *tline.Channel) tline.ChannelHandler {
		return tline.ChannelHandlerFuncs{
			OnIncoming: func(pkt *tline.ChannelPacket) {
				target, _ := pkt.Fields["seek"].(string)
				log.Default().Info("seek request", "target", target)
				if err := ch.Send(nil, map[string]any{"hashname": sw.Hashname().String()}); err != nil {
					log.Default().Warn("seek reply failed", "err", err)
				}
			},
			OnError: func(err error) {
				log.Default().Warn("seek channel error", "err", err)
			},
		}
	})
}
