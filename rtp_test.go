package capture

import (
	"encoding/binary"
	"testing"
)

func pcmChunk(frames, channels int, value float32) *AudioChunk {
	samples := make([]float32, frames*channels)
	for i := range samples {
		samples[i] = value
	}
	return &AudioChunk{
		Samples:    samples,
		SampleRate: 48000,
		Channels:   channels,
		FrameCount: frames,
		Timestamp:  1_000_000_000, // 1s
	}
}

func TestPacketizeSinglePacket(t *testing.T) {
	p, err := NewAudioPacketizer(0x1234, 96, 48000, DefaultMTU)
	if err != nil {
		t.Fatalf("NewAudioPacketizer failed: %v", err)
	}

	packets, err := p.Packetize(pcmChunk(100, 2, 0.5))
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("Got %d packets, want 1", len(packets))
	}

	pkt := packets[0]
	if pkt.SSRC != 0x1234 || pkt.PayloadType != 96 || pkt.Version != 2 {
		t.Errorf("Bad header: ssrc=%#x pt=%d version=%d", pkt.SSRC, pkt.PayloadType, pkt.Version)
	}
	if pkt.Timestamp != 48000 {
		t.Errorf("RTP timestamp = %d, want 48000 (1s at 48kHz)", pkt.Timestamp)
	}
	if len(pkt.Payload) != 100*2*2 {
		t.Errorf("Payload = %d bytes, want 400", len(pkt.Payload))
	}
	// 0.5 scales to 16384 after rounding.
	if got := int16(binary.BigEndian.Uint16(pkt.Payload)); got != 16384 {
		t.Errorf("First sample = %d, want 16384", got)
	}
}

func TestPacketizeSplitsOnFrameBoundaries(t *testing.T) {
	// MTU admits 100 frames per packet: (412-12) / (2 channels * 2 bytes).
	p, err := NewAudioPacketizer(1, 96, 48000, 412)
	if err != nil {
		t.Fatalf("NewAudioPacketizer failed: %v", err)
	}

	packets, err := p.Packetize(pcmChunk(250, 2, 0))
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 3 {
		t.Fatalf("Got %d packets, want 3", len(packets))
	}

	wantFrames := []int{100, 100, 50}
	base := packets[0].Timestamp
	for i, pkt := range packets {
		if frames := len(pkt.Payload) / 4; frames != wantFrames[i] {
			t.Errorf("Packet %d carries %d frames, want %d", i, frames, wantFrames[i])
		}
		if pkt.Payload == nil || len(pkt.Payload)%4 != 0 {
			t.Errorf("Packet %d payload straddles a sample frame", i)
		}
		wantTS := base + uint32(i*100)
		if pkt.Timestamp != wantTS {
			t.Errorf("Packet %d timestamp = %d, want %d", i, pkt.Timestamp, wantTS)
		}
	}

	// Sequence numbers are consecutive.
	for i := 1; i < len(packets); i++ {
		if packets[i].SequenceNumber != packets[i-1].SequenceNumber+1 {
			t.Errorf("Sequence gap between packet %d (%d) and %d (%d)",
				i-1, packets[i-1].SequenceNumber, i, packets[i].SequenceNumber)
		}
	}
}

func TestPacketizeClipsSamples(t *testing.T) {
	p, _ := NewAudioPacketizer(1, 96, 48000, DefaultMTU)

	chunk := pcmChunk(2, 1, 0)
	chunk.Samples[0] = 2.0  // above full scale
	chunk.Samples[1] = -2.0 // below full scale

	packets, err := p.Packetize(chunk)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if got := int16(binary.BigEndian.Uint16(packets[0].Payload[0:])); got != 32767 {
		t.Errorf("Positive overflow = %d, want 32767", got)
	}
	if got := int16(binary.BigEndian.Uint16(packets[0].Payload[2:])); got != -32768 {
		t.Errorf("Negative overflow = %d, want -32768", got)
	}
}

func TestPacketizeRejectsShortBuffer(t *testing.T) {
	p, _ := NewAudioPacketizer(1, 96, 48000, DefaultMTU)

	chunk := pcmChunk(10, 2, 0)
	chunk.Samples = chunk.Samples[:5]
	if _, err := p.Packetize(chunk); err == nil {
		t.Error("Short sample buffer must be rejected")
	}
}

func TestPacketizeEmptyChunk(t *testing.T) {
	p, _ := NewAudioPacketizer(1, 96, 48000, DefaultMTU)
	packets, err := p.Packetize(&AudioChunk{})
	if err != nil || packets != nil {
		t.Errorf("Empty chunk = (%v, %v), want (nil, nil)", packets, err)
	}
}

func TestNewAudioPacketizerValidation(t *testing.T) {
	if _, err := NewAudioPacketizer(1, 96, 0, DefaultMTU); err == nil {
		t.Error("Zero clock rate must be rejected")
	}
	p, err := NewAudioPacketizer(1, 96, 48000, 0)
	if err != nil {
		t.Fatalf("Zero MTU should fall back to the default: %v", err)
	}
	if p.mtu != DefaultMTU {
		t.Errorf("MTU = %d, want %d", p.mtu, DefaultMTU)
	}
}

func TestPacketizeMTUTooSmall(t *testing.T) {
	p, err := NewAudioPacketizer(1, 96, 48000, rtpHeaderSize+1)
	if err != nil {
		t.Fatalf("NewAudioPacketizer failed: %v", err)
	}
	if _, err := p.Packetize(pcmChunk(10, 2, 0)); err == nil {
		t.Error("MTU below one sample frame must be rejected")
	}
}

func TestPacketizeToBytes(t *testing.T) {
	p, _ := NewAudioPacketizer(1, 96, 48000, DefaultMTU)
	raw, err := p.PacketizeToBytes(pcmChunk(10, 2, 0.25))
	if err != nil {
		t.Fatalf("PacketizeToBytes failed: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("Got %d packets, want 1", len(raw))
	}
	if len(raw[0]) != rtpHeaderSize+10*4 {
		t.Errorf("Marshalled packet = %d bytes, want %d", len(raw[0]), rtpHeaderSize+40)
	}
	if version := raw[0][0] >> 6; version != 2 {
		t.Errorf("Wire version = %d, want 2", version)
	}
}
