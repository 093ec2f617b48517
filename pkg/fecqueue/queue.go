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

// Package fecqueue turns a lossy, reordered RTP video stream into an ordered
// run of complete frames. Packets of the frame being assembled wait in the
// buffer list. Once every data packet of the frame is present, or can be
// rebuilt from parity packets, the frame's data packets move in sequence
// order to the queue list, where the consumer pops them.
//
// A Queue is not safe for concurrent use. With one producer calling Admit and
// one consumer calling Pop on different goroutines, the caller must serialize
// every call.
package fecqueue

import (
	"github.com/gammazero/deque"
	"github.com/go-logr/logr"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec/pkg/fec"
	"github.com/livekit/rtpfec/pkg/videortp"
)

type Queue struct {
	codec           fec.Codec
	maxBufferSize   int
	logger          logger.Logger
	onPacketDropped func(pkt *videortp.Packet, reason DropReason)
	onFrameLost     func(frame uint32)

	entries arena
	// buffer holds the current frame's packets sorted by sequence number.
	buffer deque.Deque[handle]
	// ready holds deliverable data packets in strictly increasing order.
	ready deque.Deque[handle]

	bufferLowestSequenceNumber  uint16
	bufferHighestSequenceNumber uint16
	bufferDataPackets           int
	bufferFECPackets            int
	fecPercentage               int
	currentFrameNumber          uint32
	nextRtpSequenceNumber       uint16
	hasNextRtpSequenceNumber    bool

	hasFrame                 bool
	frameDone                bool
	frameFirstSequenceNumber uint16
	frameDataShards          int
	frameParityShards        int

	// floorSequenceNumber is one past the last sequence number of the last
	// finished frame. Anything before it can no longer be used.
	floorSequenceNumber uint16
	hasFloor            bool

	stats Stats
}

func New(opts ...Option) *Queue {
	q := &Queue{
		maxBufferSize: fec.MaxShards,
		logger:        logger.LogRLogger(logr.Discard()),
		entries:       newArena(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.codec == nil {
		q.codec = fec.NewReedSolomon()
	}
	return q
}

// Initialize empties the queue and forgets all stream state.
func (q *Queue) Initialize() {
	q.Cleanup()

	q.bufferLowestSequenceNumber = 0
	q.bufferHighestSequenceNumber = 0
	q.bufferDataPackets = 0
	q.bufferFECPackets = 0
	q.fecPercentage = 0
	q.currentFrameNumber = 0
	q.nextRtpSequenceNumber = 0
	q.hasNextRtpSequenceNumber = false

	q.hasFrame = false
	q.frameDone = false
	q.frameFirstSequenceNumber = 0
	q.frameDataShards = 0
	q.frameParityShards = 0

	q.floorSequenceNumber = 0
	q.hasFloor = false

	q.stats = Stats{}
}

// Cleanup releases every packet still held in either list. Pending packets
// are not handed to the consumer.
func (q *Queue) Cleanup() {
	q.buffer.Clear()
	q.ready.Clear()
	q.entries.reset()
	q.bufferDataPackets = 0
	q.bufferFECPackets = 0
}

// Pop removes and returns the oldest ready packet, or nil if none is ready.
func (q *Queue) Pop() *videortp.Packet {
	if q.ready.Len() == 0 {
		return nil
	}

	pkt := q.entries.release(q.ready.PopFront())
	q.nextRtpSequenceNumber = pkt.SequenceNumber() + 1
	if q.ready.Len() != 0 {
		// skip the parity and lost-frame gap before the next frame
		q.nextRtpSequenceNumber = q.entries.packet(q.ready.Front()).SequenceNumber()
	}

	q.stats.PacketsPopped++
	return pkt
}

// Len returns the number of buffered and ready packets.
func (q *Queue) Len() (buffered, ready int) {
	return q.buffer.Len(), q.ready.Len()
}

func (q *Queue) Stats() Stats {
	return q.stats
}

func (q *Queue) Window() Window {
	buffered, ready := q.Len()
	return Window{
		BufferLowestSequenceNumber:  q.bufferLowestSequenceNumber,
		BufferHighestSequenceNumber: q.bufferHighestSequenceNumber,
		BufferDataPackets:           q.bufferDataPackets,
		BufferFECPackets:            q.bufferFECPackets,
		FECPercentage:               q.fecPercentage,
		CurrentFrameNumber:          q.currentFrameNumber,
		NextRtpSequenceNumber:       q.nextRtpSequenceNumber,
		HasNextRtpSequenceNumber:    q.hasNextRtpSequenceNumber,
		Buffered:                    buffered,
		Ready:                       ready,
	}
}

// offset is the shard index of a buffered packet within the current frame.
func (q *Queue) offset(sn uint16) int {
	return int(sn - q.frameFirstSequenceNumber)
}

func (q *Queue) updateBounds() {
	if q.buffer.Len() == 0 {
		return
	}
	q.bufferLowestSequenceNumber = q.entries.packet(q.buffer.Front()).SequenceNumber()
	q.bufferHighestSequenceNumber = q.entries.packet(q.buffer.Back()).SequenceNumber()
}

func (q *Queue) drop(pkt *videortp.Packet, reason DropReason) {
	q.stats.count(reason)

	var sn uint16
	var frame uint32
	if pkt != nil {
		sn = pkt.SequenceNumber()
		frame = pkt.FrameNumber()
	}
	q.logger.Debugw("packet dropped",
		"sequence number", sn,
		"frame", frame,
		"reason", reason,
	)
	if q.onPacketDropped != nil {
		q.onPacketDropped(pkt, reason)
	}
}
