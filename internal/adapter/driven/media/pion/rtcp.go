package pion

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const keyframeInterval = 3 * time.Second

// requestKeyframes sends a PLI right away and then periodically until the
// connection refuses RTCP.
func requestKeyframes(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
	if err := pc.WriteRTCP(pli); err != nil {
		return
	}

	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for range ticker.C {
		if pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			return
		}
		if err := pc.WriteRTCP(pli); err != nil {
			return
		}
	}
}

// drainRTCP reads incoming RTCP for a sender so the interceptors see it.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
