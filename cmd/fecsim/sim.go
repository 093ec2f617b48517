package main

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/rtpfec"
	"github.com/livekit/rtpfec/pkg/fec"
	"github.com/livekit/rtpfec/pkg/fecqueue"
	"github.com/livekit/rtpfec/pkg/ring"
	"github.com/livekit/rtpfec/pkg/seqnum"
	"github.com/livekit/rtpfec/pkg/videortp"
)

const payloadType = 96

type report struct {
	FramesSent       int
	FramesDelivered  int
	DataPacketsSent  int
	FECPacketsSent   int
	PacketsDelivered int
	PacketsRecovered int
	Mismatches       int
	OutOfOrder       int
	Link             linkStats
	Receiver         rtpfec.ReceiverStats
	Elapsed          time.Duration
}

type stream struct {
	datagrams [][]byte
	// payloads of every data shard, by frame index and shard index
	expected map[uint32][][]byte
	data     int
	parity   int
}

func generate(conf *Config, codec fec.Codec) (*stream, error) {
	r := rand.New(rand.NewSource(conf.Seed))
	p, err := videortp.NewPacketizer(r.Uint32(), payloadType,
		videortp.WithShardSize(conf.ShardSize),
		videortp.WithFECPercentage(conf.FECPercentage),
		videortp.WithPacketizerCodec(codec),
		videortp.WithInitialSequenceNumber(uint16(r.Intn(1<<16))),
	)
	if err != nil {
		return nil, err
	}

	s := &stream{expected: make(map[uint32][][]byte, conf.Frames)}
	frame := make([]byte, conf.FrameSize)
	for i := 0; i < conf.Frames; i++ {
		r.Read(frame)
		packets, err := p.Packetize(frame, uint32(i)*3000)
		if err != nil {
			return nil, err
		}

		var shards [][]byte
		for _, pkt := range packets {
			if pkt.IsFEC() {
				s.parity++
			} else {
				s.data++
				shards = append(shards, pkt.Payload)
			}
			buf, err := pkt.Marshal()
			if err != nil {
				return nil, err
			}
			s.datagrams = append(s.datagrams, buf)
		}
		s.expected[packets[0].FrameNumber()] = shards
	}
	return s, nil
}

type verifier struct {
	expected  map[uint32][][]byte
	delivered map[uint32]int

	hasLast bool
	lastSN  uint16

	packets    int
	recovered  int
	mismatches int
	outOfOrder int
}

func (v *verifier) consume(pkt *videortp.Packet) {
	v.packets++
	if pkt.Recovered {
		v.recovered++
	}

	sn := pkt.SequenceNumber()
	if v.hasLast && !seqnum.IsBefore16(v.lastSN, sn) {
		v.outOfOrder++
	}
	v.hasLast = true
	v.lastSN = sn

	shards := v.expected[pkt.FrameNumber()]
	idx := int(pkt.Video.FECIndex)
	if idx >= len(shards) || !bytes.Equal(shards[idx], pkt.Payload) {
		v.mismatches++
		return
	}
	v.delivered[pkt.FrameNumber()]++
}

func (v *verifier) framesDelivered() int {
	n := 0
	for frame, count := range v.delivered {
		if count == len(v.expected[frame]) {
			n++
		}
	}
	return n
}

// simulate sends conf.Frames frames through a lossy link and a receiver, and
// checks every packet that comes out against what was sent.
func simulate(ctx context.Context, conf *Config, lgr logger.Logger) (*report, error) {
	scheme, err := fec.ParseScheme(conf.Scheme)
	if err != nil {
		return nil, err
	}
	sendCodec, err := fec.New(scheme)
	if err != nil {
		return nil, err
	}
	recvCodec, err := fec.New(scheme)
	if err != nil {
		return nil, err
	}

	s, err := generate(conf, sendCodec)
	if err != nil {
		return nil, err
	}
	lgr.Debugw("stream generated",
		"frames", conf.Frames,
		"dataPackets", s.data,
		"fecPackets", s.parity,
		"scheme", scheme,
	)

	receiver := rtpfec.NewReceiver(
		rtpfec.WithReceiverLogger(lgr),
		rtpfec.WithQueueOptions(
			fecqueue.WithCodec(recvCodec),
			fecqueue.WithMaxBufferSize(conf.MaxBufferSize),
		),
	)
	defer receiver.Close()

	l := newLink(conf)
	wire := ring.New[[]byte](conf.RingSize)
	v := &verifier{
		expected:  s.expected,
		delivered: make(map[uint32]int, len(s.expected)),
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	feedCtx, feedDone := context.WithCancel(gctx)
	defer feedDone()

	// sender: datagrams over the link onto the wire
	g.Go(func() error {
		defer wire.Close()

		deliver := func(b []byte) {
			for !wire.PushTimeout(b, 10*time.Millisecond) {
				if gctx.Err() != nil {
					return
				}
			}
		}
		for _, d := range s.datagrams {
			if err := gctx.Err(); err != nil {
				return err
			}
			l.send(d, deliver)
		}
		l.flush(deliver)
		return nil
	})

	// transport: wire into the receiver
	g.Go(func() error {
		defer feedDone()
		for {
			d, err := wire.PopContext(gctx)
			if errors.Is(err, ring.ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err = receiver.PushRTP(d); err != nil {
				return err
			}
		}
	})

	// consumer
	g.Go(func() error {
		for {
			pkt, err := receiver.ReadPacket(feedCtx)
			if err == nil {
				v.consume(pkt)
				continue
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				// the transport is done, take what is left
				for pkt = receiver.Pop(); pkt != nil; pkt = receiver.Pop() {
					v.consume(pkt)
				}
				return nil
			}
			return err
		}
	})

	if err = g.Wait(); err != nil {
		return nil, err
	}

	return &report{
		FramesSent:       conf.Frames,
		FramesDelivered:  v.framesDelivered(),
		DataPacketsSent:  s.data,
		FECPacketsSent:   s.parity,
		PacketsDelivered: v.packets,
		PacketsRecovered: v.recovered,
		Mismatches:       v.mismatches,
		OutOfOrder:       v.outOfOrder,
		Link:             l.stats,
		Receiver:         receiver.Stats(),
		Elapsed:          time.Since(start),
	}, nil
}
