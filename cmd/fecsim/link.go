package main

import (
	"math/rand"
)

type linkStats struct {
	Sent       uint64
	Dropped    uint64
	Reordered  uint64
	Duplicated uint64
	Delivered  uint64
}

// link is a lossy network path. Loss follows a two state model whose mean
// burst length is burst and whose long run loss rate is loss.
type link struct {
	rand      *rand.Rand
	loss      float64
	burst     float64
	reorder   float64
	duplicate float64

	bad   bool
	held  []byte
	stats linkStats
}

func newLink(conf *Config) *link {
	return &link{
		rand:      rand.New(rand.NewSource(conf.Seed)),
		loss:      conf.Loss,
		burst:     max(conf.Burst, 1),
		reorder:   conf.Reorder,
		duplicate: conf.Duplicate,
	}
}

func (l *link) lost() bool {
	if l.loss <= 0 {
		return false
	}
	if l.loss >= 1 {
		return true
	}
	if l.burst <= 1 {
		return l.rand.Float64() < l.loss
	}

	if l.bad {
		if l.rand.Float64() < 1/l.burst {
			l.bad = false
		}
	} else if l.rand.Float64() < l.loss/(l.burst*(1-l.loss)) {
		l.bad = true
	}
	return l.bad
}

func (l *link) send(datagram []byte, deliver func([]byte)) {
	l.stats.Sent++
	if l.lost() {
		l.stats.Dropped++
		return
	}

	if l.held == nil && l.rand.Float64() < l.reorder {
		// delivered after the next datagram
		l.held = datagram
		l.stats.Reordered++
		return
	}

	l.emit(datagram, deliver)
	if l.rand.Float64() < l.duplicate {
		l.stats.Duplicated++
		l.emit(datagram, deliver)
	}
	l.flush(deliver)
}

func (l *link) flush(deliver func([]byte)) {
	if l.held != nil {
		held := l.held
		l.held = nil
		l.emit(held, deliver)
	}
}

func (l *link) emit(datagram []byte, deliver func([]byte)) {
	l.stats.Delivered++
	deliver(datagram)
}
