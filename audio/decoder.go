package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pion/opus"
)

var (
	ErrNoPackets     = errors.New("audio: clip has no opus packets")
	ErrInvalidPacket = errors.New("audio: invalid opus packet")
)

// 40ms at 48kHz, 16 bit.
const decodeBufferSize = 1920 * 2

// OpusDecoder computes clip duration from the TOC byte of every packet (RFC 6716 §3.1).
// The first packet is also decoded for the channel count and bandwidth; when
// that fails they are left unknown and the duration still stands.
type OpusDecoder struct {
	decoder opus.Decoder
}

func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{decoder: opus.NewDecoder()}
}

func (d *OpusDecoder) Decode(raw *RawClip) (ClipInfo, error) {
	if raw == nil || len(raw.Packets) == 0 {
		return ClipInfo{}, ErrNoPackets
	}
	var info ClipInfo
	for i, pkt := range raw.Packets {
		pd, err := PacketDuration(pkt)
		if err != nil {
			return ClipInfo{}, fmt.Errorf("packet %d: %w", i, err)
		}
		info.Duration += pd
	}
	info.Channels, info.Bandwidth = d.params(raw.Packets[0])
	return info, nil
}

func (d *OpusDecoder) params(pkt []byte) (channels int, bandwidth string) {
	out := make([]byte, decodeBufferSize)
	bw, stereo, err := d.decoder.Decode(pkt, out)
	if err != nil {
		glog.V(5).Infof("audio: opus decode: %v", err)
		return 0, ""
	}
	channels = 1
	if stereo {
		channels = 2
	}
	return channels, bw.String()
}

// frame sizes in units of 100us, indexed by config
var frameSize = [32]int{
	// SILK NB, MB, WB
	100, 200, 400, 600, 100, 200, 400, 600, 100, 200, 400, 600,
	// Hybrid SWB, FB
	100, 200, 100, 200,
	// CELT NB, WB, SWB, FB
	25, 50, 100, 200, 25, 50, 100, 200, 25, 50, 100, 200, 25, 50, 100, 200,
}

// PacketDuration returns the audio duration carried by a single Opus packet.
func PacketDuration(pkt []byte) (time.Duration, error) {
	if len(pkt) == 0 {
		return 0, ErrInvalidPacket
	}
	toc := pkt[0]
	per := frameSize[toc>>3]

	var frames int
	switch toc & 0x3 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	case 3:
		if len(pkt) < 2 {
			return 0, ErrInvalidPacket
		}
		frames = int(pkt[1] & 0x3f)
		if frames == 0 {
			return 0, ErrInvalidPacket
		}
	}

	d := time.Duration(frames*per) * 100 * time.Microsecond
	// a packet never carries more than 120ms
	if d > 120*time.Millisecond {
		return 0, ErrInvalidPacket
	}
	return d, nil
}
