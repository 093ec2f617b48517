// Copyright 2025 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package videortp

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/livekit/rtpfec/pkg/fec"
)

const (
	DefaultShardSize     = 1024
	DefaultFECPercentage = 20
	rtpVersion           = 2
)

// Packetizer splits encoded video frames into data shards, protects them with
// parity shards and wraps every shard in an RTP packet.
type Packetizer struct {
	ssrc              uint32
	payloadType       uint8
	shardSize         int
	fecPercentage     int
	codec             fec.Codec
	sequenceNumber    uint16
	streamPacketIndex uint32
	frameIndex        uint32
}

type PacketizerOption func(p *Packetizer)

func WithShardSize(size int) PacketizerOption {
	return func(p *Packetizer) {
		p.shardSize = size
	}
}

func WithFECPercentage(percentage int) PacketizerOption {
	return func(p *Packetizer) {
		p.fecPercentage = percentage
	}
}

func WithPacketizerCodec(codec fec.Codec) PacketizerOption {
	return func(p *Packetizer) {
		p.codec = codec
	}
}

func WithInitialSequenceNumber(sn uint16) PacketizerOption {
	return func(p *Packetizer) {
		p.sequenceNumber = sn
	}
}

func WithInitialFrameIndex(frame uint32) PacketizerOption {
	return func(p *Packetizer) {
		p.frameIndex = frame
	}
}

func NewPacketizer(ssrc uint32, payloadType uint8, opts ...PacketizerOption) (*Packetizer, error) {
	p := &Packetizer{
		ssrc:          ssrc,
		payloadType:   payloadType,
		shardSize:     DefaultShardSize,
		fecPercentage: DefaultFECPercentage,
		frameIndex:    1,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.shardSize <= 0 {
		return nil, fmt.Errorf("%w: shard size %d", ErrInvalidOptions, p.shardSize)
	}
	if p.fecPercentage < 0 || p.fecPercentage > 100 {
		return nil, fmt.Errorf("%w: fec percentage %d", ErrInvalidOptions, p.fecPercentage)
	}
	if p.codec == nil {
		p.codec = fec.NewReedSolomon()
	}
	return p, nil
}

// NextSequenceNumber is the sequence number the next packet will use.
func (p *Packetizer) NextSequenceNumber() uint16 {
	return p.sequenceNumber
}

// NextFrameIndex is the frame index the next frame will use.
func (p *Packetizer) NextFrameIndex() uint32 {
	return p.frameIndex
}

// Packetize returns the data packets of frame, in order, followed by its
// parity packets. The last data shard is zero padded to the shard size.
func (p *Packetizer) Packetize(frame []byte, timestamp uint32) ([]*Packet, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	dataShards := (len(frame) + p.shardSize - 1) / p.shardSize
	parityShards := fec.ParityShards(dataShards, p.fecPercentage)
	if dataShards > MaxDataShards || dataShards+parityShards > fec.MaxShards {
		return nil, fmt.Errorf("%w: %d data and %d parity shards", ErrFrameTooLarge, dataShards, parityShards)
	}

	shards := make([][]byte, dataShards+parityShards)
	for i := 0; i < dataShards; i++ {
		shard := make([]byte, p.shardSize)
		copy(shard, frame[i*p.shardSize:])
		shards[i] = shard
	}
	if err := p.codec.Encode(shards, dataShards); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", p.frameIndex, err)
	}

	packets := make([]*Packet, 0, len(shards))
	for i, shard := range shards {
		pkt := &Packet{
			RTP: p.rtpHeader(timestamp, i == dataShards-1),
			Video: Header{
				StreamPacketIndex: p.streamPacketIndex,
				FrameIndex:        p.frameIndex,
				FECIndex:          uint16(i),
				DataShards:        uint16(dataShards),
				FECPercentage:     uint8(p.fecPercentage),
			},
			Payload: shard,
		}
		if i < dataShards {
			pkt.Video.Flags = FlagContainsPicData
			if i == 0 {
				pkt.Video.Flags |= FlagSOF
			}
			if i == dataShards-1 {
				pkt.Video.Flags |= FlagEOF
			}
		}
		packets = append(packets, pkt)

		p.sequenceNumber++
		p.streamPacketIndex++
	}

	p.frameIndex++
	return packets, nil
}

func (p *Packetizer) rtpHeader(timestamp uint32, marker bool) rtp.Header {
	return rtp.Header{
		Version:        rtpVersion,
		Marker:         marker,
		PayloadType:    p.payloadType,
		SequenceNumber: p.sequenceNumber,
		Timestamp:      timestamp,
		SSRC:           p.ssrc,
	}
}
