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
	"fmt"

	"github.com/livekit/rtpfec/pkg/seqnum"
)

// checkConsistency scans both lists and verifies the queue invariants.
func (q *Queue) checkConsistency() error {
	if got := q.buffer.Len() + q.ready.Len(); got != q.entries.size {
		return fmt.Errorf("arena holds %d entries, lists hold %d", q.entries.size, got)
	}

	data, parity := 0, 0
	for i := 0; i < q.buffer.Len(); i++ {
		h := q.buffer.At(i)
		e := q.entries.get(h)
		if e.list != listBuffer {
			return fmt.Errorf("buffer entry %d is in list %d", h, e.list)
		}
		pkt := e.packet
		if pkt.FrameNumber() != q.currentFrameNumber {
			return fmt.Errorf("buffered packet %d belongs to frame %d, current %d",
				pkt.SequenceNumber(), pkt.FrameNumber(), q.currentFrameNumber)
		}
		if pkt.IsFEC() {
			parity++
		} else {
			data++
		}
		if i > 0 {
			prev := q.entries.packet(q.buffer.At(i - 1)).SequenceNumber()
			if !seqnum.IsBefore16(prev, pkt.SequenceNumber()) {
				return fmt.Errorf("buffer out of order: %d then %d", prev, pkt.SequenceNumber())
			}
		}
	}
	if data != q.bufferDataPackets || parity != q.bufferFECPackets {
		return fmt.Errorf("buffer counts %d/%d, scanned %d/%d",
			q.bufferDataPackets, q.bufferFECPackets, data, parity)
	}
	if q.buffer.Len() != 0 {
		low := q.entries.packet(q.buffer.Front()).SequenceNumber()
		high := q.entries.packet(q.buffer.Back()).SequenceNumber()
		if low != q.bufferLowestSequenceNumber || high != q.bufferHighestSequenceNumber {
			return fmt.Errorf("buffer bounds %d-%d, list spans %d-%d",
				q.bufferLowestSequenceNumber, q.bufferHighestSequenceNumber, low, high)
		}
		if q.frameDone {
			return fmt.Errorf("finished frame %d still has buffered packets", q.currentFrameNumber)
		}
	}

	for i := 0; i < q.ready.Len(); i++ {
		h := q.ready.At(i)
		e := q.entries.get(h)
		if e.list != listReady {
			return fmt.Errorf("ready entry %d is in list %d", h, e.list)
		}
		if e.packet.IsFEC() {
			return fmt.Errorf("parity packet %d in queue list", e.packet.SequenceNumber())
		}
		if i == 0 {
			if !q.hasNextRtpSequenceNumber || e.packet.SequenceNumber() != q.nextRtpSequenceNumber {
				return fmt.Errorf("queue head %d, next expected %d",
					e.packet.SequenceNumber(), q.nextRtpSequenceNumber)
			}
			continue
		}
		prev := q.entries.packet(q.ready.At(i - 1))
		sn := e.packet.SequenceNumber()
		if !seqnum.IsBefore16(prev.SequenceNumber(), sn) {
			return fmt.Errorf("queue out of order: %d then %d", prev.SequenceNumber(), sn)
		}
		if prev.FrameNumber() == e.packet.FrameNumber() && sn != prev.SequenceNumber()+1 {
			return fmt.Errorf("gap inside frame %d: %d then %d", e.packet.FrameNumber(), prev.SequenceNumber(), sn)
		}
	}
	return nil
}
