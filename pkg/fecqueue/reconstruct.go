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
	"errors"

	"github.com/livekit/rtpfec/pkg/fec"
)

// tryComplete finishes the current frame when all of its data packets are
// buffered or enough parity packets arrived to rebuild the missing ones.
func (q *Queue) tryComplete() Result {
	if q.bufferDataPackets == q.frameDataShards {
		q.finishFrame()
		return QueuedPacketsReady
	}

	missing := q.frameDataShards - q.bufferDataPackets
	if missing > q.bufferFECPackets {
		// more packets of this frame may still arrive
		return QueuedNothingReady
	}

	recovered, err := q.reconstruct()
	if err != nil {
		if errors.Is(err, fec.ErrTooFewShards) {
			// the code needs a different set of shards, keep waiting
			return QueuedNothingReady
		}
		q.logger.Warnw("could not reconstruct frame", err,
			"frame", q.currentFrameNumber,
			"data shards", q.frameDataShards,
			"parity shards", q.frameParityShards,
		)
		q.discardFrame(DropUnrecoverable)
		return QueuedNothingReady
	}

	q.logger.Debugw("frame recovered",
		"frame", q.currentFrameNumber,
		"recovered", recovered,
		"data shards", q.frameDataShards,
		"parity shards", q.frameParityShards,
	)
	q.stats.PacketsRecovered += uint64(recovered)
	q.stats.FramesRecovered++
	q.finishFrame()
	return QueuedPacketsReady
}

// reconstruct rebuilds the missing data packets of the current frame and
// files them into the buffer list.
func (q *Queue) reconstruct() (int, error) {
	shards := make([][]byte, q.frameDataShards+q.frameParityShards)
	size := 0
	for i := 0; i < q.buffer.Len(); i++ {
		pkt := q.entries.packet(q.buffer.At(i))
		shards[q.offset(pkt.SequenceNumber())] = pkt.Payload
		size = max(size, len(pkt.Payload))
	}

	// shards are equally sized on the wire, pad any that were trimmed
	for i, s := range shards {
		if s != nil && len(s) < size {
			padded := make([]byte, size)
			copy(padded, s)
			shards[i] = padded
		}
	}

	missing := make([]int, 0, q.frameDataShards-q.bufferDataPackets)
	for i := 0; i < q.frameDataShards; i++ {
		if shards[i] == nil {
			missing = append(missing, i)
		}
	}

	if err := q.codec.Reconstruct(shards, q.frameDataShards); err != nil {
		return 0, err
	}

	template := q.entries.packet(q.buffer.Front())
	for _, idx := range missing {
		// data shards sort before parity shards, so idx is also the
		// buffer position once every lower shard is in place
		q.insert(idx, template.Sibling(uint16(idx), shards[idx]))
	}
	return len(missing), nil
}

// finishFrame moves the current frame's data packets, in order, to the queue
// list and releases its parity packets.
func (q *Queue) finishFrame() {
	wasEmpty := q.ready.Len() == 0

	for q.buffer.Len() != 0 {
		h := q.buffer.PopFront()
		e := q.entries.get(h)
		if e.packet.IsFEC() {
			q.entries.release(h)
			continue
		}
		e.list = listReady
		q.ready.PushBack(h)
	}

	if wasEmpty && q.ready.Len() != 0 {
		q.nextRtpSequenceNumber = q.entries.packet(q.ready.Front()).SequenceNumber()
		q.hasNextRtpSequenceNumber = true
	}

	q.stats.FramesCompleted++
	q.closeFrame()
}

// discardFrame drops every buffered packet of the current frame.
func (q *Queue) discardFrame(reason DropReason) {
	for q.buffer.Len() != 0 {
		pkt := q.entries.release(q.buffer.PopFront())
		q.drop(pkt, reason)
	}
	q.loseFrame()
}

func (q *Queue) loseFrame() {
	q.logger.Infow("frame lost",
		"frame", q.currentFrameNumber,
		"data shards", q.frameDataShards,
		"parity shards", q.frameParityShards,
	)
	q.stats.FramesLost++
	if q.onFrameLost != nil {
		q.onFrameLost(q.currentFrameNumber)
	}
	q.closeFrame()
}

func (q *Queue) closeFrame() {
	q.frameDone = true
	q.bufferDataPackets = 0
	q.bufferFECPackets = 0
	q.floorSequenceNumber = q.frameFirstSequenceNumber + uint16(q.frameDataShards+q.frameParityShards)
	q.hasFloor = true
}
