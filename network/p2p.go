package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/host"
	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolExchange is the libp2p protocol id of the tile exchange.
const ProtocolExchange protocol.ID = "/tessera/exchange/1.0.0"

// maxFrameSize bounds a single envelope frame on the wire.
const maxFrameSize = 1 << 28

type (
	// P2P carries the exchange over libp2p streams. Ranks map onto a
	// fixed roster of peer ids agreed by all workers; messages are CBOR
	// envelopes on one persistent stream per destination, which keeps
	// per-(sender,receiver) delivery in FIFO order.
	P2P struct {
		host   host.Host
		rank   int
		roster []peer.ID
		ranks  map[peer.ID]int

		mu      sync.Mutex
		boxes   map[boxKey]*mailbox
		sendMu  map[int]*sync.Mutex
		streams map[int]p2pnet.Stream
		closed  bool
	}

	envelope struct {
		_    struct{} `cbor:",toarray"`
		Src  int32
		Tag  int32
		Data []byte
	}
)

// NewP2P attaches a transport to the given host. The roster lists every
// worker's peer id in rank order and must be identical on all workers;
// the host's own id must appear at position rank.
func NewP2P(h host.Host, rank int, roster []peer.ID) (*P2P, error) {
	if rank < 0 || rank >= len(roster) {
		return nil, fmt.Errorf("rank %d outside roster of %d peers", rank, len(roster))
	}
	if roster[rank] != h.ID() {
		return nil, fmt.Errorf("roster entry %d is %s, host id is %s", rank, roster[rank], h.ID())
	}
	p := &P2P{
		host:    h,
		rank:    rank,
		roster:  roster,
		ranks:   make(map[peer.ID]int, len(roster)),
		boxes:   make(map[boxKey]*mailbox),
		sendMu:  make(map[int]*sync.Mutex, len(roster)),
		streams: make(map[int]p2pnet.Stream, len(roster)),
	}
	for r, id := range roster {
		p.ranks[id] = r
		p.sendMu[r] = &sync.Mutex{}
	}
	h.SetStreamHandler(ProtocolExchange, p.handleStream)
	return p, nil
}

func (p *P2P) Rank() int { return p.rank }

func (p *P2P) Size() int { return len(p.roster) }

func (p *P2P) box(k boxKey) *mailbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.boxes[k]
	if !ok {
		b = &mailbox{}
		p.boxes[k] = b
	}
	return b
}

func (p *P2P) handleStream(s p2pnet.Stream) {
	defer s.Close() //nolint:errcheck
	src, ok := p.ranks[s.Conn().RemotePeer()]
	if !ok {
		s.Reset() //nolint:errcheck
		return
	}
	for {
		frame, err := readFrame(s)
		if err != nil {
			return
		}
		var env envelope
		if err := cbor.Unmarshal(frame, &env); err != nil {
			return
		}
		if int(env.Src) != src {
			// envelope must match the authenticated stream peer
			continue
		}
		p.box(boxKey{src: src, dst: p.rank, tag: int(env.Tag)}).put(env.Data)
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeFrame(w io.Writer, frame []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame))) /* #nosec G115 frames are bounded far below 4GiB */
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

func (p *P2P) stream(ctx context.Context, dest int) (p2pnet.Stream, error) {
	p.mu.Lock()
	s, ok := p.streams[dest]
	p.mu.Unlock()
	if ok {
		return s, nil
	}
	s, err := p.host.NewStream(ctx, p.roster[dest], ProtocolExchange)
	if err != nil {
		return nil, fmt.Errorf("opening stream to rank %d (%s): %w", dest, p.roster[dest], err)
	}
	p.mu.Lock()
	p.streams[dest] = s
	p.mu.Unlock()
	return s, nil
}

func (p *P2P) checkPeer(rank int) error {
	if rank < 0 || rank >= len(p.roster) {
		return fmt.Errorf("%w: no worker with rank %d in group of %d", ErrTransport, rank, len(p.roster))
	}
	return nil
}

// Isend writes the envelope onto the destination's stream. The write is
// performed before returning, so the request is already complete; FIFO per
// destination follows from the per-destination write lock.
func (p *P2P) Isend(ctx context.Context, dest, tag int, data []byte) (*Request, error) {
	if err := p.checkPeer(dest); err != nil {
		return nil, err
	}
	if dest == p.rank {
		p.box(boxKey{src: p.rank, dst: p.rank, tag: tag}).put(data)
		return completedRequest(nil, nil), nil
	}
	frame, err := cbor.Marshal(envelope{Src: int32(p.rank), Tag: int32(tag), Data: data}) /* #nosec G115 ranks and tags are small */
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %w", ErrTransport, err)
	}
	mu := p.sendMu[dest]
	mu.Lock()
	defer mu.Unlock()
	s, err := p.stream(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := writeFrame(s, frame); err != nil {
		// a broken stream is never reused
		p.mu.Lock()
		delete(p.streams, dest)
		p.mu.Unlock()
		s.Reset() //nolint:errcheck
		return nil, fmt.Errorf("%w: writing to rank %d: %w", ErrTransport, dest, err)
	}
	return completedRequest(nil, nil), nil
}

func (p *P2P) Irecv(_ context.Context, source, tag int) (*Request, error) {
	if err := p.checkPeer(source); err != nil {
		return nil, err
	}
	return pendingRequest(p.box(boxKey{src: source, dst: p.rank, tag: tag}).take()), nil
}

func (p *P2P) Bcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if err := p.checkPeer(root); err != nil {
		return nil, err
	}
	if p.rank == root {
		for dest := range p.roster {
			if dest == root {
				continue
			}
			if _, err := p.Isend(ctx, dest, TagBcast, data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
	req, err := p.Irecv(ctx, root, TagBcast)
	if err != nil {
		return nil, err
	}
	return req.Wait(ctx)
}

func (p *P2P) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.host.RemoveStreamHandler(ProtocolExchange)
	for dest, s := range p.streams {
		s.Close() //nolint:errcheck
		delete(p.streams, dest)
	}
	return nil
}
