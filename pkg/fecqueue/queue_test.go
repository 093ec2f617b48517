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
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/rtpfec/pkg/fec"
	"github.com/livekit/rtpfec/pkg/seqnum"
	"github.com/livekit/rtpfec/pkg/videortp"
)

type testStream struct {
	t          *testing.T
	packetizer *videortp.Packetizer
	rand       *rand.Rand
	timestamp  uint32
	shardSize  int
	payloads   map[uint16][]byte
}

func newTestStream(t *testing.T, seed int64, shardSize, fecPercentage int, opts ...videortp.PacketizerOption) *testStream {
	opts = append([]videortp.PacketizerOption{
		videortp.WithShardSize(shardSize),
		videortp.WithFECPercentage(fecPercentage),
	}, opts...)
	p, err := videortp.NewPacketizer(0x1234, 96, opts...)
	require.NoError(t, err)

	return &testStream{
		t:          t,
		packetizer: p,
		rand:       rand.New(rand.NewSource(seed)),
		shardSize:  shardSize,
		payloads:   make(map[uint16][]byte),
	}
}

// gen packetizes a frame of dataShards full shards and remembers every data
// payload by sequence number.
func (s *testStream) gen(dataShards int) []*videortp.Packet {
	frame := make([]byte, dataShards*s.shardSize)
	s.rand.Read(frame)

	packets, err := s.packetizer.Packetize(frame, s.timestamp)
	require.NoError(s.t, err)
	s.timestamp += 3000

	for _, pkt := range packets {
		if !pkt.IsFEC() {
			s.payloads[pkt.SequenceNumber()] = bytes.Clone(pkt.Payload)
		}
	}
	return packets
}

func dataCount(packets []*videortp.Packet) int {
	n := 0
	for _, pkt := range packets {
		if !pkt.IsFEC() {
			n++
		}
	}
	return n
}

func admit(t *testing.T, q *Queue, pkt *videortp.Packet) Result {
	res := q.Admit(pkt)
	require.NoError(t, q.checkConsistency())
	return res
}

func popAll(t *testing.T, q *Queue) []*videortp.Packet {
	var out []*videortp.Packet
	for {
		pkt := q.Pop()
		require.NoError(t, q.checkConsistency())
		if pkt == nil {
			return out
		}
		out = append(out, pkt)
	}
}

func requireSequence(t *testing.T, packets []*videortp.Packet, first uint16, count int) {
	require.Len(t, packets, count)
	for i, pkt := range packets {
		require.Equal(t, first+uint16(i), pkt.SequenceNumber())
	}
}

func (s *testStream) requirePayloads(packets []*videortp.Packet) {
	for _, pkt := range packets {
		want, ok := s.payloads[pkt.SequenceNumber()]
		require.True(s.t, ok, "unknown sequence number %d", pkt.SequenceNumber())
		require.Equal(s.t, want, pkt.Payload, "payload of %d", pkt.SequenceNumber())
	}
}

func TestRecoverSingleLoss(t *testing.T) {
	q := New()
	s := newTestStream(t, 1, 16, 25)

	packets := s.gen(4)
	require.Len(t, packets, 5)
	require.True(t, packets[4].IsFEC())

	require.Equal(t, QueuedNothingReady, admit(t, q, packets[0]))
	require.Equal(t, QueuedNothingReady, admit(t, q, packets[1]))
	require.Equal(t, QueuedNothingReady, admit(t, q, packets[3]))

	w := q.Window()
	require.Equal(t, uint16(0), w.BufferLowestSequenceNumber)
	require.Equal(t, uint16(3), w.BufferHighestSequenceNumber)
	require.Equal(t, 3, w.BufferDataPackets)
	require.Equal(t, 25, w.FECPercentage)
	require.Equal(t, uint32(1), w.CurrentFrameNumber)
	require.False(t, w.HasNextRtpSequenceNumber)

	require.Equal(t, QueuedPacketsReady, admit(t, q, packets[4]))

	out := popAll(t, q)
	requireSequence(t, out, 0, 4)
	s.requirePayloads(out)
	require.True(t, out[2].Recovered)
	require.False(t, out[1].Recovered)
	require.Nil(t, q.Pop())

	stats := q.Stats()
	require.Equal(t, uint64(1), stats.FramesCompleted)
	require.Equal(t, uint64(1), stats.FramesRecovered)
	require.Equal(t, uint64(1), stats.PacketsRecovered)
	require.Equal(t, uint64(4), stats.PacketsPopped)
}

func TestInOrderFrames(t *testing.T) {
	q := New()
	s := newTestStream(t, 2, 32, 20)

	for f := 0; f < 20; f++ {
		packets := s.gen(10)
		require.Len(t, packets, 12)

		for i, pkt := range packets {
			res := admit(t, q, pkt)
			switch {
			case i < 9:
				require.Equal(t, QueuedNothingReady, res)
			case i == 9:
				require.Equal(t, QueuedPacketsReady, res)
			default:
				// parity of a finished frame is late
				require.Equal(t, Rejected, res)
			}
		}

		out := popAll(t, q)
		requireSequence(t, out, packets[0].SequenceNumber(), 10)
		s.requirePayloads(out)
	}

	stats := q.Stats()
	require.Equal(t, uint64(20), stats.FramesCompleted)
	require.Zero(t, stats.FramesRecovered)
	require.Equal(t, uint64(40), stats.PacketsStale)
}

func TestUnrecoverableFrameDiscarded(t *testing.T) {
	var lost []uint32
	var dropped []DropReason
	q := New(
		WithFrameLostHandler(func(frame uint32) { lost = append(lost, frame) }),
		WithPacketDroppedHandler(func(_ *videortp.Packet, reason DropReason) { dropped = append(dropped, reason) }),
	)
	s := newTestStream(t, 3, 8, 0)

	frame1 := s.gen(5)
	require.Len(t, frame1, 5)
	for i, pkt := range frame1 {
		if i == 2 {
			continue
		}
		require.Equal(t, QueuedNothingReady, admit(t, q, pkt))
	}
	require.Nil(t, q.Pop())

	frame2 := s.gen(2)
	require.Equal(t, QueuedNothingReady, admit(t, q, frame2[0]))
	require.Equal(t, []uint32{1}, lost)
	require.Equal(t, []DropReason{DropSuperseded, DropSuperseded, DropSuperseded, DropSuperseded}, dropped)

	// the withheld packet shows up late
	require.Equal(t, Rejected, admit(t, q, frame1[2]))
	require.Equal(t, DropStale, dropped[len(dropped)-1])

	require.Equal(t, QueuedPacketsReady, admit(t, q, frame2[1]))
	out := popAll(t, q)
	requireSequence(t, out, 5, 2)
	for _, pkt := range out {
		require.Equal(t, uint32(2), pkt.FrameNumber())
	}

	stats := q.Stats()
	require.Equal(t, uint64(1), stats.FramesLost)
	require.Equal(t, uint64(4), stats.PacketsDiscarded)
}

func TestReadyPrefixSurvivesNextFrame(t *testing.T) {
	q := New()
	s := newTestStream(t, 4, 8, 0)

	frame1 := s.gen(2)
	frame2 := s.gen(3)

	for _, pkt := range frame1 {
		admit(t, q, pkt)
	}
	admit(t, q, frame2[0])

	// frame 1 was queued before frame 2 began and is still delivered
	out := popAll(t, q)
	requireSequence(t, out, 0, 2)
}

func TestDuplicates(t *testing.T) {
	var reasons []DropReason
	q := New(WithPacketDroppedHandler(func(_ *videortp.Packet, reason DropReason) {
		reasons = append(reasons, reason)
	}))
	s := newTestStream(t, 5, 8, 50)

	frame1 := s.gen(4)
	frame2 := s.gen(4)

	require.Equal(t, QueuedNothingReady, admit(t, q, frame1[0]))
	before := q.Window()
	require.Equal(t, Rejected, admit(t, q, frame1[0].Clone()))
	require.Equal(t, before, q.Window())

	for _, pkt := range frame1[1:4] {
		admit(t, q, pkt)
	}
	_, ready := q.Len()
	require.Equal(t, 4, ready)

	// still in the queue list
	before = q.Window()
	require.Equal(t, Rejected, admit(t, q, frame1[2].Clone()))
	require.Equal(t, before, q.Window())

	// buffered in the current frame
	admit(t, q, frame2[1])
	before = q.Window()
	require.Equal(t, Rejected, admit(t, q, frame2[1].Clone()))
	require.Equal(t, before, q.Window())

	popAll(t, q)
	// popped already
	require.Equal(t, Rejected, admit(t, q, frame1[3].Clone()))

	require.Equal(t, []DropReason{DropDuplicate, DropDuplicate, DropDuplicate, DropStale}, reasons)
	stats := q.Stats()
	require.Equal(t, uint64(3), stats.PacketsDuplicate)
	require.Equal(t, uint64(4), stats.PacketsRejected)
}

func TestStaleFrame(t *testing.T) {
	q := New()
	s := newTestStream(t, 6, 8, 0)

	frame1 := s.gen(2)
	frame2 := s.gen(2)

	admit(t, q, frame2[0])
	require.Equal(t, Rejected, admit(t, q, frame1[0]))
	require.Equal(t, Rejected, admit(t, q, frame1[1]))
	require.Equal(t, QueuedPacketsReady, admit(t, q, frame2[1]))
	require.Equal(t, uint64(2), q.Stats().PacketsStale)

	for _, first := range []uint32{0x7ffffffe, 0xfffffffd} {
		t.Run(fmt.Sprintf("frame counter wraps from %#x", first), func(t *testing.T) {
			q := New()
			s := newTestStream(t, 6, 8, 0, videortp.WithInitialFrameIndex(first))

			var previous []*videortp.Packet
			for f := 0; f < 50; f++ {
				frame := s.gen(1)
				require.Equal(t, QueuedPacketsReady, admit(t, q, frame[0]), "frame %#x", frame[0].FrameNumber())
				out := popAll(t, q)
				require.Len(t, out, 1)
				require.Equal(t, frame[0].FrameNumber(), out[0].FrameNumber())

				if previous != nil {
					// the frame before is still older after the wrap
					late := previous[0].Clone()
					late.RTP.SequenceNumber = frame[0].SequenceNumber() + 10
					require.Equal(t, Rejected, admit(t, q, late))
				}
				previous = frame
			}
			require.Equal(t, first+50, s.packetizer.NextFrameIndex())
		})
	}

	t.Run("half range jump counts as stale", func(t *testing.T) {
		q := New()
		s := newTestStream(t, 6, 8, 0, videortp.WithInitialFrameIndex(0))
		far := newTestStream(t, 6, 8, 0,
			videortp.WithInitialFrameIndex(0x80000000),
			videortp.WithInitialSequenceNumber(100),
		)

		require.Equal(t, QueuedPacketsReady, admit(t, q, s.gen(1)[0]))
		require.Equal(t, Rejected, admit(t, q, far.gen(1)[0]))
		require.Equal(t, uint32(0), q.Window().CurrentFrameNumber)
	})
}

func TestMalformed(t *testing.T) {
	q := New()
	s := newTestStream(t, 7, 8, 25)

	require.Equal(t, Rejected, q.Admit(nil))

	packets := s.gen(4)
	admit(t, q, packets[0])

	bad := packets[1].Clone()
	bad.Video.DataShards = 5
	require.Equal(t, Rejected, admit(t, q, bad))

	bad = packets[1].Clone()
	bad.RTP.SequenceNumber += 100
	require.Equal(t, Rejected, admit(t, q, bad))

	bad = packets[1].Clone()
	bad.Video.DataShards = 0
	require.Equal(t, Rejected, admit(t, q, bad))

	require.Equal(t, uint64(4), q.Stats().PacketsMalformed)
}

func TestRecoveryWithinBudget(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		r := rand.New(rand.NewSource(seed))
		dataShards := 1 + r.Intn(30)
		percentage := 10 + r.Intn(91)
		s := newTestStream(t, seed, 24, percentage)
		q := New()

		packets := s.gen(dataShards)
		parity := len(packets) - dataShards
		require.Equal(t, fec.ParityShards(dataShards, percentage), parity)

		withhold := map[int]bool{}
		for _, i := range r.Perm(dataShards)[:r.Intn(parity+1)] {
			withhold[i] = true
		}

		var results []Result
		for _, i := range r.Perm(len(packets)) {
			if withhold[i] {
				continue
			}
			results = append(results, admit(t, q, packets[i]))
		}
		require.Contains(t, results, QueuedPacketsReady, "seed %d", seed)

		out := popAll(t, q)
		requireSequence(t, out, packets[0].SequenceNumber(), dataShards)
		s.requirePayloads(out)
		for _, pkt := range out {
			require.Equal(t, uint32(1), pkt.FrameNumber())
		}
	}
}

func TestLossBeyondBudget(t *testing.T) {
	for seed := int64(0); seed < 30; seed++ {
		r := rand.New(rand.NewSource(seed))
		dataShards := 4 + r.Intn(20)
		s := newTestStream(t, seed, 16, 25)
		q := New()

		packets := s.gen(dataShards)
		parity := len(packets) - dataShards
		withhold := map[int]bool{}
		for _, i := range r.Perm(dataShards)[:parity+1+r.Intn(dataShards-parity)] {
			withhold[i] = true
		}

		for _, i := range r.Perm(len(packets)) {
			if !withhold[i] {
				require.Equal(t, QueuedNothingReady, admit(t, q, packets[i]), "seed %d", seed)
			}
		}
		require.Nil(t, q.Pop())

		next := s.gen(1)
		require.Equal(t, QueuedPacketsReady, admit(t, q, next[0]))

		// late arrivals of the lost frame never get through
		for i := range withhold {
			require.Equal(t, Rejected, admit(t, q, packets[i]))
		}

		out := popAll(t, q)
		require.Len(t, out, 1)
		require.Equal(t, uint32(2), out[0].FrameNumber())
		require.Equal(t, uint64(1), q.Stats().FramesLost)
	}
}

func TestWraparound(t *testing.T) {
	q := New()
	s := newTestStream(t, 8, 16, 20, videortp.WithInitialSequenceNumber(65520))
	r := rand.New(rand.NewSource(8))

	var popped []*videortp.Packet
	for f := 0; f < 6; f++ {
		packets := s.gen(5)
		// one data packet lost per frame, the rest reordered
		lost := r.Intn(5)
		for _, i := range r.Perm(len(packets)) {
			if i != lost {
				admit(t, q, packets[i])
			}
		}
		popped = append(popped, popAll(t, q)...)
	}

	require.Len(t, popped, 30)
	s.requirePayloads(popped)
	for i := 1; i < len(popped); i++ {
		require.True(t, seqnum.IsBefore16(popped[i-1].SequenceNumber(), popped[i].SequenceNumber()))
	}
	require.Equal(t, uint16(65520), popped[0].SequenceNumber())
	require.Less(t, popped[len(popped)-1].SequenceNumber(), uint16(100))
}

func TestCapacity(t *testing.T) {
	t.Run("frame larger than buffer", func(t *testing.T) {
		var lost []uint32
		q := New(WithMaxBufferSize(3), WithFrameLostHandler(func(frame uint32) {
			lost = append(lost, frame)
		}))
		s := newTestStream(t, 9, 8, 25)

		packets := s.gen(4)
		require.Equal(t, Rejected, admit(t, q, packets[0]))
		require.Equal(t, Rejected, admit(t, q, packets[1]))
		require.Equal(t, []uint32{1}, lost)

		next := s.gen(2)
		for _, pkt := range next {
			admit(t, q, pkt)
		}
		requireSequence(t, popAll(t, q), next[0].SequenceNumber(), 2)
	})

	t.Run("eviction", func(t *testing.T) {
		q := New(WithMaxBufferSize(4), WithCodec(fec.NewXOR()))
		s := newTestStream(t, 10, 8, 50, videortp.WithPacketizerCodec(fec.NewXOR()))

		// 4 data shards, parity 4 covers {0, 2} and parity 5 covers {1, 3}
		packets := s.gen(4)
		require.Len(t, packets, 6)

		require.Equal(t, QueuedNothingReady, admit(t, q, packets[1]))
		require.Equal(t, QueuedNothingReady, admit(t, q, packets[3]))
		require.Equal(t, QueuedNothingReady, admit(t, q, packets[4]))
		// shards 0 and 2 share a parity shard, xor cannot rebuild both
		require.Equal(t, QueuedNothingReady, admit(t, q, packets[5]))

		// full, and below the low edge
		require.Equal(t, Rejected, admit(t, q, packets[0]))

		// pushes out shard 1, which parity 5 rebuilds
		require.Equal(t, QueuedPacketsReady, admit(t, q, packets[2]))

		out := popAll(t, q)
		requireSequence(t, out, 0, 4)
		s.requirePayloads(out)
		require.True(t, out[0].Recovered)
		require.True(t, out[1].Recovered)

		stats := q.Stats()
		require.Equal(t, uint64(1), stats.PacketsEvicted)
		require.Equal(t, uint64(1), stats.PacketsOutOfWindow)
	})
}

func TestCleanup(t *testing.T) {
	q := New()
	s := newTestStream(t, 11, 8, 20)

	for _, pkt := range s.gen(5) {
		admit(t, q, pkt)
	}
	partial := s.gen(5)
	admit(t, q, partial[0])
	admit(t, q, partial[1])

	buffered, ready := q.Len()
	require.Equal(t, 2, buffered)
	require.Equal(t, 5, ready)

	q.Cleanup()
	buffered, ready = q.Len()
	require.Zero(t, buffered)
	require.Zero(t, ready)
	require.Zero(t, q.entries.size)
	require.Nil(t, q.Pop())
	require.NoError(t, q.checkConsistency())

	// safe to call twice
	q.Cleanup()

	q.Initialize()
	require.False(t, q.Window().HasNextRtpSequenceNumber)
	require.Equal(t, Stats{}, q.Stats())

	// the stream can restart from anywhere after initialize
	s = newTestStream(t, 12, 8, 20, videortp.WithInitialSequenceNumber(500))
	for _, pkt := range s.gen(3) {
		admit(t, q, pkt)
	}
	requireSequence(t, popAll(t, q), 500, 3)
}

func TestArenaReuse(t *testing.T) {
	q := New()
	s := newTestStream(t, 13, 8, 20)

	for f := 0; f < 50; f++ {
		for _, pkt := range s.gen(5) {
			admit(t, q, pkt)
		}
		popAll(t, q)
	}
	// entries are recycled, not appended per packet
	require.LessOrEqual(t, len(q.entries.entries), 6)
}

func TestLossyStream(t *testing.T) {
	q := New()
	s := newTestStream(t, 14, 16, 30)
	r := rand.New(rand.NewSource(14))

	sent := 0
	var popped []*videortp.Packet
	var pending []*videortp.Packet
	for f := 0; f < 200; f++ {
		packets := s.gen(1 + r.Intn(12))
		sent += dataCount(packets)
		for _, pkt := range packets {
			switch x := r.Float64(); {
			case x < 0.1:
				// lost
			case x < 0.15:
				pending = append(pending, pkt, pkt.Clone())
			default:
				pending = append(pending, pkt)
			}
		}

		// mild reordering within a sliding window
		for i := range pending {
			if j := i + r.Intn(3); j < len(pending) {
				pending[i], pending[j] = pending[j], pending[i]
			}
		}
		keep := r.Intn(3)
		if keep > len(pending) {
			keep = len(pending)
		}
		for _, pkt := range pending[:len(pending)-keep] {
			admit(t, q, pkt)
		}
		pending = append(pending[:0], pending[len(pending)-keep:]...)

		if r.Intn(2) == 0 {
			popped = append(popped, popAll(t, q)...)
		}
	}
	popped = append(popped, popAll(t, q)...)

	require.NotEmpty(t, popped)
	require.LessOrEqual(t, len(popped), sent)
	s.requirePayloads(popped)
	for i := 1; i < len(popped); i++ {
		prev, cur := popped[i-1], popped[i]
		require.True(t, seqnum.IsBefore16(prev.SequenceNumber(), cur.SequenceNumber()))
		if prev.FrameNumber() == cur.FrameNumber() {
			require.Equal(t, prev.SequenceNumber()+1, cur.SequenceNumber())
		}
	}

	stats := q.Stats()
	require.Equal(t, uint64(len(popped)), stats.PacketsPopped)
	require.NotZero(t, stats.FramesRecovered)
}
