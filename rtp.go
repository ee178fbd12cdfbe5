package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/pion/rtp"
)

// DefaultMTU is the default maximum transmission unit for RTP packets.
const DefaultMTU = 1200

const rtpHeaderSize = 12

// AudioPacketizer converts captured audio chunks to L16 (RFC 3551) RTP
// packets: interleaved big-endian 16-bit PCM, RTP clock equal to the sample
// rate. It lets the raw audio lane of a capture session feed pion-based
// transports without an encoder in between.
type AudioPacketizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	clockRate   int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

// NewAudioPacketizer creates an L16 RTP packetizer. clockRate must match
// the capture's audio sample rate.
func NewAudioPacketizer(ssrc uint32, pt uint8, clockRate, mtu int) (*AudioPacketizer, error) {
	if clockRate <= 0 {
		return nil, fmt.Errorf("clock rate must be > 0, got %d", clockRate)
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &AudioPacketizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		clockRate:   clockRate,
		sequencer:   rtp.NewRandomSequencer(),
	}, nil
}

// Packetize converts one audio chunk to RTP packets. Packets are split on
// whole sample frames so a frame's channels never straddle packets. The RTP
// timestamp is derived from the chunk timestamp in clock-rate units and
// advances within the chunk as frames are consumed.
func (p *AudioPacketizer) Packetize(chunk *AudioChunk) ([]*rtp.Packet, error) {
	if chunk.Channels <= 0 || chunk.FrameCount <= 0 {
		return nil, nil
	}
	if len(chunk.Samples) < chunk.Channels*chunk.FrameCount {
		return nil, fmt.Errorf("short sample buffer: %d < %d", len(chunk.Samples), chunk.Channels*chunk.FrameCount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	frameBytes := chunk.Channels * 2
	framesPerPacket := (p.mtu - rtpHeaderSize) / frameBytes
	if framesPerPacket <= 0 {
		return nil, fmt.Errorf("mtu %d too small for %d channels", p.mtu, chunk.Channels)
	}

	baseTS := uint32(chunk.Timestamp * int64(p.clockRate) / 1e9)

	var packets []*rtp.Packet
	for off := 0; off < chunk.FrameCount; off += framesPerPacket {
		frames := chunk.FrameCount - off
		if frames > framesPerPacket {
			frames = framesPerPacket
		}
		payload := make([]byte, frames*frameBytes)
		for i := 0; i < frames*chunk.Channels; i++ {
			s := chunk.Samples[off*chunk.Channels+i]
			binary.BigEndian.PutUint16(payload[i*2:], uint16(floatToS16(s)))
		}
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      baseTS + uint32(off),
				SSRC:           p.ssrc,
			},
			Payload: payload,
		})
	}
	return packets, nil
}

// PacketizeToBytes converts one audio chunk to raw RTP packet bytes.
func (p *AudioPacketizer) PacketizeToBytes(chunk *AudioChunk) ([][]byte, error) {
	packets, err := p.Packetize(chunk)
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(packets))
	for i, pkt := range packets {
		result[i], err = pkt.Marshal()
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *AudioPacketizer) SSRC() uint32        { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *AudioPacketizer) PayloadType() uint8  { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *AudioPacketizer) SetSSRC(ssrc uint32) { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }

// floatToS16 converts a float sample in [-1, 1] to signed 16-bit PCM with
// clipping.
func floatToS16(v float32) int16 {
	scaled := float64(v) * 32767
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(math.Round(scaled))
}
