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

package fecqueue

import (
	"sort"

	"github.com/livekit/rtpfec/pkg/fec"
	"github.com/livekit/rtpfec/pkg/seqnum"
	"github.com/livekit/rtpfec/pkg/videortp"
)

// Admit takes ownership of pkt and files it into the frame being assembled.
// A rejected packet is discarded.
func (q *Queue) Admit(pkt *videortp.Packet) Result {
	if pkt == nil || pkt.Video.Validate() != nil {
		return q.reject(pkt, DropMalformed)
	}

	sn := pkt.SequenceNumber()
	frame := pkt.FrameNumber()

	newFrame := !q.hasFrame || frame != q.currentFrameNumber
	if newFrame && q.hasFrame && seqnum.IsBefore32(frame, q.currentFrameNumber) {
		return q.reject(pkt, DropStale)
	}

	if q.hasFloor && seqnum.IsBefore16(sn, q.floorSequenceNumber) {
		if q.isReady(sn) {
			return q.reject(pkt, DropDuplicate)
		}
		return q.reject(pkt, DropStale)
	}

	if newFrame {
		if q.hasFloor && seqnum.IsBefore16(pkt.FirstSequenceNumber(), q.floorSequenceNumber) {
			// the new frame claims sequence numbers that were already used up
			return q.reject(pkt, DropMalformed)
		}
		q.startFrame(pkt)
		if q.frameDone {
			return q.reject(pkt, DropUnrecoverable)
		}
	} else if q.frameDone {
		return q.reject(pkt, DropStale)
	}

	if pkt.FirstSequenceNumber() != q.frameFirstSequenceNumber ||
		int(pkt.Video.DataShards) != q.frameDataShards ||
		int(pkt.Video.FECPercentage) != q.fecPercentage {
		return q.reject(pkt, DropMalformed)
	}

	off := q.offset(sn)
	pos := sort.Search(q.buffer.Len(), func(i int) bool {
		return q.offset(q.entries.packet(q.buffer.At(i)).SequenceNumber()) >= off
	})
	if pos < q.buffer.Len() && q.entries.packet(q.buffer.At(pos)).SequenceNumber() == sn {
		return q.reject(pkt, DropDuplicate)
	}

	if q.buffer.Len() >= q.maxBufferSize {
		if pos == 0 {
			// the window is full and the packet is below its low edge
			return q.reject(pkt, DropOutOfWindow)
		}
		q.evict()
		pos--
	}

	q.insert(pos, pkt)
	q.stats.PacketsAdmitted++

	return q.tryComplete()
}

func (q *Queue) reject(pkt *videortp.Packet, reason DropReason) Result {
	q.stats.PacketsRejected++
	q.drop(pkt, reason)
	return Rejected
}

// startFrame makes pkt's frame the current frame. Whatever is left of the
// previous frame can no longer complete and is dropped.
func (q *Queue) startFrame(pkt *videortp.Packet) {
	if q.buffer.Len() != 0 {
		q.discardFrame(DropSuperseded)
	}

	q.currentFrameNumber = pkt.FrameNumber()
	q.hasFrame = true
	q.frameDone = false
	q.frameFirstSequenceNumber = pkt.FirstSequenceNumber()
	q.frameDataShards = int(pkt.Video.DataShards)
	q.fecPercentage = int(pkt.Video.FECPercentage)
	q.frameParityShards = fec.ParityShards(q.frameDataShards, q.fecPercentage)
	q.bufferDataPackets = 0
	q.bufferFECPackets = 0

	q.floorSequenceNumber = q.frameFirstSequenceNumber
	q.hasFloor = true

	if q.frameDataShards > q.maxBufferSize {
		// the buffer can never hold enough shards to finish this frame
		q.logger.Debugw("frame larger than buffer",
			"frame", q.currentFrameNumber,
			"data shards", q.frameDataShards,
			"max buffer size", q.maxBufferSize,
		)
		q.loseFrame()
	}
}

func (q *Queue) insert(pos int, pkt *videortp.Packet) {
	q.buffer.Insert(pos, q.entries.alloc(pkt, listBuffer))
	if pkt.IsFEC() {
		q.bufferFECPackets++
	} else {
		q.bufferDataPackets++
	}
	q.updateBounds()
}

// evict drops the lowest buffered packet to make room.
func (q *Queue) evict() {
	pkt := q.removeBuffered(0)
	q.drop(pkt, DropEvicted)
}

func (q *Queue) removeBuffered(pos int) *videortp.Packet {
	pkt := q.entries.release(q.buffer.Remove(pos))
	if pkt.IsFEC() {
		q.bufferFECPackets--
	} else {
		q.bufferDataPackets--
	}
	q.updateBounds()
	return pkt
}

func (q *Queue) isReady(sn uint16) bool {
	n := q.ready.Len()
	if n == 0 {
		return false
	}
	first := q.entries.packet(q.ready.Front()).SequenceNumber()
	last := q.entries.packet(q.ready.Back()).SequenceNumber()
	if seqnum.IsBefore16(sn, first) || seqnum.IsBefore16(last, sn) {
		return false
	}

	i := sort.Search(n, func(i int) bool {
		return !seqnum.IsBefore16(q.entries.packet(q.ready.At(i)).SequenceNumber(), sn)
	})
	return i < n && q.entries.packet(q.ready.At(i)).SequenceNumber() == sn
}
