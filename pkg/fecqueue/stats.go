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

import "fmt"

// Result is the outcome of admitting a packet.
type Result int

const (
	// QueuedNothingReady means the packet was kept but no packet became
	// ready to pop.
	QueuedNothingReady Result = iota
	// QueuedPacketsReady means one or more packets can now be popped.
	QueuedPacketsReady
	// Rejected means the packet was discarded.
	Rejected
)

func (r Result) String() string {
	switch r {
	case QueuedNothingReady:
		return "QUEUED_NOTHING_READY"
	case QueuedPacketsReady:
		return "QUEUED_PACKETS_READY"
	case Rejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// DropReason says why a packet never reached the consumer.
type DropReason int

const (
	// DropStale is a packet of a superseded frame or of an already finished
	// sequence range.
	DropStale DropReason = iota
	// DropDuplicate is a packet whose sequence number is already held.
	DropDuplicate
	// DropOutOfWindow is a packet below the window of a full buffer.
	DropOutOfWindow
	// DropMalformed is a packet whose FEC fields contradict its frame.
	DropMalformed
	// DropSuperseded is a buffered packet of a frame that a newer frame
	// replaced before it could complete.
	DropSuperseded
	// DropUnrecoverable is a buffered packet of a frame that cannot be
	// rebuilt.
	DropUnrecoverable
	// DropEvicted is a buffered packet pushed out by a newer one.
	DropEvicted
)

func (r DropReason) String() string {
	switch r {
	case DropStale:
		return "stale"
	case DropDuplicate:
		return "duplicate"
	case DropOutOfWindow:
		return "out of window"
	case DropMalformed:
		return "malformed"
	case DropSuperseded:
		return "superseded"
	case DropUnrecoverable:
		return "unrecoverable"
	case DropEvicted:
		return "evicted"
	default:
		return fmt.Sprintf("DropReason(%d)", int(r))
	}
}

// Stats are cumulative since the queue was initialized.
type Stats struct {
	PacketsAdmitted    uint64
	PacketsRecovered   uint64
	PacketsPopped      uint64
	PacketsRejected    uint64
	PacketsStale       uint64
	PacketsDuplicate   uint64
	PacketsOutOfWindow uint64
	PacketsMalformed   uint64
	PacketsDiscarded   uint64
	PacketsEvicted     uint64

	FramesCompleted uint64
	FramesRecovered uint64
	FramesLost      uint64
}

func (s *Stats) count(reason DropReason) {
	switch reason {
	case DropStale:
		s.PacketsStale++
	case DropDuplicate:
		s.PacketsDuplicate++
	case DropOutOfWindow:
		s.PacketsOutOfWindow++
	case DropMalformed:
		s.PacketsMalformed++
	case DropSuperseded, DropUnrecoverable:
		s.PacketsDiscarded++
	case DropEvicted:
		s.PacketsEvicted++
	}
}

// Window is a snapshot of the queue's window state.
type Window struct {
	BufferLowestSequenceNumber  uint16
	BufferHighestSequenceNumber uint16
	BufferDataPackets           int
	BufferFECPackets            int
	FECPercentage               int
	CurrentFrameNumber          uint32
	// NextRtpSequenceNumber is only meaningful when HasNextRtpSequenceNumber
	// is set.
	NextRtpSequenceNumber    uint16
	HasNextRtpSequenceNumber bool

	Buffered int
	Ready    int
}
