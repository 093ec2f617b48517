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

// Package videortp carries video frames over RTP with forward error
// correction. Every RTP payload starts with a fixed video header describing
// the frame and the packet's place in that frame's FEC block.
package videortp

import (
	"encoding/binary"
	"fmt"

	"github.com/livekit/rtpfec/pkg/fec"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

const (
	FlagContainsPicData uint8 = 0x1
	FlagEOF             uint8 = 0x2
	FlagSOF             uint8 = 0x4
)

const (
	fecPercentageShift = 4
	fecPercentageMask  = 0xff
	fecIndexShift      = 12
	fecIndexMask       = 0x3ff
	dataShardsShift    = 22
	dataShardsMask     = 0x3ff
)

// MaxDataShards is the largest data shard count the header can describe.
const MaxDataShards = dataShardsMask

// Header is the video header at the start of each RTP payload. All
// multi-byte fields are little endian.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                      stream packet index                      |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          frame index                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     flags     |   reserved    | multi fec flg | multi fec blk |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                           fec info                            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// fec info packs the FEC percentage in bits 4-11, the packet's shard index
// in bits 12-21 and the frame's data shard count in bits 22-31.
type Header struct {
	StreamPacketIndex uint32
	FrameIndex        uint32
	Flags             uint8
	Reserved          uint8
	MultiFECFlags     uint8
	MultiFECBlocks    uint8

	FECIndex      uint16
	DataShards    uint16
	FECPercentage uint8
}

// IsFEC reports whether the packet carries a parity shard.
func (h *Header) IsFEC() bool {
	return h.FECIndex >= h.DataShards
}

// ParityShards is the number of parity shards in the packet's frame.
func (h *Header) ParityShards() int {
	return fec.ParityShards(int(h.DataShards), int(h.FECPercentage))
}

// TotalShards is the number of data and parity shards in the packet's frame.
func (h *Header) TotalShards() int {
	return int(h.DataShards) + h.ParityShards()
}

func (h *Header) FECInfo() uint32 {
	return uint32(h.FECPercentage)<<fecPercentageShift |
		uint32(h.FECIndex&fecIndexMask)<<fecIndexShift |
		uint32(h.DataShards&dataShardsMask)<<dataShardsShift
}

func (h *Header) setFECInfo(info uint32) {
	h.FECPercentage = uint8((info >> fecPercentageShift) & fecPercentageMask)
	h.FECIndex = uint16((info >> fecIndexShift) & fecIndexMask)
	h.DataShards = uint16((info >> dataShardsShift) & dataShardsMask)
}

// Validate checks that the FEC fields describe a usable block.
func (h *Header) Validate() error {
	if h.DataShards == 0 {
		return fmt.Errorf("%w: no data shards", ErrInvalidHeader)
	}
	if h.FECPercentage > 100 {
		return fmt.Errorf("%w: fec percentage %d", ErrInvalidHeader, h.FECPercentage)
	}
	if total := h.TotalShards(); total > fec.MaxShards {
		return fmt.Errorf("%w: %d shards", ErrInvalidHeader, total)
	}
	if int(h.FECIndex) >= h.TotalShards() {
		return fmt.Errorf("%w: fec index %d of %d", ErrInvalidHeader, h.FECIndex, h.TotalShards())
	}
	return nil
}

func (h *Header) Unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: video header needs %d bytes, got %d", ErrShortBuffer, HeaderSize, len(buf))
	}

	h.StreamPacketIndex = binary.LittleEndian.Uint32(buf[0:])
	h.FrameIndex = binary.LittleEndian.Uint32(buf[4:])
	h.Flags = buf[8]
	h.Reserved = buf[9]
	h.MultiFECFlags = buf[10]
	h.MultiFECBlocks = buf[11]
	h.setFECInfo(binary.LittleEndian.Uint32(buf[12:]))
	return nil
}

func (h *Header) MarshalTo(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrShortBuffer
	}

	binary.LittleEndian.PutUint32(buf[0:], h.StreamPacketIndex)
	binary.LittleEndian.PutUint32(buf[4:], h.FrameIndex)
	buf[8] = h.Flags
	buf[9] = h.Reserved
	buf[10] = h.MultiFECFlags
	buf[11] = h.MultiFECBlocks
	binary.LittleEndian.PutUint32(buf[12:], h.FECInfo())
	return HeaderSize, nil
}
