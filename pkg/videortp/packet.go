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
	"bytes"
	"fmt"

	"github.com/pion/rtp"
)

// Packet is one parsed RTP packet of a video stream. Payload is the FEC shard
// that follows the video header.
type Packet struct {
	RTP     rtp.Header
	Video   Header
	Payload []byte

	// Recovered is set on packets synthesized from parity shards.
	Recovered bool
}

// Unmarshal parses an RTP datagram. buf is copied, so the caller may reuse it.
func Unmarshal(buf []byte) (*Packet, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(bytes.Clone(buf)); err != nil {
		return nil, fmt.Errorf("rtp: %w", err)
	}
	return FromRTP(pkt)
}

// FromRTP parses the video header of an already decoded RTP packet. The
// packet's payload is referenced, not copied.
func FromRTP(pkt *rtp.Packet) (*Packet, error) {
	p := &Packet{RTP: pkt.Header}
	if err := p.Video.Unmarshal(pkt.Payload); err != nil {
		return nil, err
	}
	if err := p.Video.Validate(); err != nil {
		return nil, err
	}
	p.Payload = pkt.Payload[HeaderSize:]
	return p, nil
}

func (p *Packet) SequenceNumber() uint16 {
	return p.RTP.SequenceNumber
}

func (p *Packet) FrameNumber() uint32 {
	return p.Video.FrameIndex
}

func (p *Packet) IsFEC() bool {
	return p.Video.IsFEC()
}

// FirstSequenceNumber is the sequence number of the first data shard of the
// packet's frame.
func (p *Packet) FirstSequenceNumber() uint16 {
	return p.RTP.SequenceNumber - p.Video.FECIndex
}

func (p *Packet) MarshalSize() int {
	return p.RTP.MarshalSize() + HeaderSize + len(p.Payload)
}

func (p *Packet) MarshalTo(buf []byte) (int, error) {
	if len(buf) < p.MarshalSize() {
		return 0, ErrShortBuffer
	}

	hdr := p.RTP
	hdr.Padding = false
	n, err := hdr.MarshalTo(buf)
	if err != nil {
		return 0, err
	}
	m, err := p.Video.MarshalTo(buf[n:])
	if err != nil {
		return 0, err
	}
	n += m
	n += copy(buf[n:], p.Payload)
	return n, nil
}

func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	n, err := p.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ToRTP converts the packet back into an RTP packet whose payload starts with
// the video header.
func (p *Packet) ToRTP() *rtp.Packet {
	payload := make([]byte, HeaderSize+len(p.Payload))
	_, _ = p.Video.MarshalTo(payload)
	copy(payload[HeaderSize:], p.Payload)

	hdr := p.RTP.Clone()
	hdr.Padding = false
	return &rtp.Packet{Header: hdr, Payload: payload}
}

func (p *Packet) Clone() *Packet {
	return &Packet{
		RTP:       p.RTP.Clone(),
		Video:     p.Video,
		Payload:   bytes.Clone(p.Payload),
		Recovered: p.Recovered,
	}
}

// Sibling synthesizes the data packet at shard index of p's frame, using p's
// headers as the template.
func (p *Packet) Sibling(index uint16, payload []byte) *Packet {
	s := &Packet{
		RTP:       p.RTP.Clone(),
		Video:     p.Video,
		Payload:   payload,
		Recovered: true,
	}

	s.RTP.SequenceNumber = p.FirstSequenceNumber() + index
	s.RTP.Marker = index == p.Video.DataShards-1
	s.RTP.Padding = false

	s.Video.FECIndex = index
	s.Video.StreamPacketIndex = p.Video.StreamPacketIndex - uint32(p.Video.FECIndex) + uint32(index)
	s.Video.Flags = FlagContainsPicData
	if index == 0 {
		s.Video.Flags |= FlagSOF
	}
	if s.RTP.Marker {
		s.Video.Flags |= FlagEOF
	}
	return s
}
