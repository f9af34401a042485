package xfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hyoklee/fabtsuite/fi"
	"github.com/hyoklee/fabtsuite/wire"
)

// ServiceName is the fixed rendezvous port fget and fput discover each
// other on.
const ServiceName = "4242"

// TotalRepeats is how many times a transfer cycles the terminal's
// reference text end to end, matching the reference implementation's
// fixed-length round trip.
const TotalRepeats = 10000

func defaultEntireLen() uint64 {
	return uint64(len(referenceText)) * TotalRepeats
}

// discoveryCaps is the capability set both personalities require: message
// sends/receives for the handshake and control streams, one-sided RMA
// writes, and the remote-write flag a receiver needs to advertise targets.
const discoveryCaps = fi.CapMsg | fi.CapRMA | fi.CapRemoteWrite | fi.CapWrite

// baseDiscoverOptions returns the provider/capability/version constraints
// shared by Get and Put, ahead of cfg.Discover (which may override any of
// them) and the endpoint-type/service options each bring-up appends last.
func baseDiscoverOptions() []fi.DiscoverOption {
	return []fi.DiscoverOption{
		fi.WithCaps(discoveryCaps),
		fi.WithMode(fi.ModeContext),
		fi.WithVersion(fi.Version(1, 13)),
	}
}

// bringup carries the fabric resources opened once per process: the
// discovery result every Descriptor method call stays rooted in, the
// fabric and domain both personalities share, and the worker pool
// sessions are handed off to once bring-up completes.
type bringup struct {
	discovery *fi.Discovery
	fabric    *fi.Fabric
	domain    *fi.Domain
	pool      *WorkerPool
}

// openBringup discovers a provider matching opts, opens its fabric and
// domain, and creates the worker pool sessions will be assigned to.
func openBringup(cfg *Config, opts ...fi.DiscoverOption) (*bringup, error) {
	discovery, err := fi.DiscoverDescriptors(opts...)
	if err != nil {
		return nil, fmt.Errorf("xfer: discover: %w", err)
	}

	descs := discovery.Descriptors()
	if len(descs) == 0 {
		discovery.Close()
		return nil, errors.New("xfer: no fabric providers discovered")
	}
	desc := descs[0]

	fabric, err := desc.OpenFabric()
	if err != nil {
		discovery.Close()
		return nil, fmt.Errorf("xfer: open fabric: %w", err)
	}

	domain, err := desc.OpenDomain(fabric)
	if err != nil {
		fabric.Close()
		discovery.Close()
		return nil, fmt.Errorf("xfer: open domain: %w", err)
	}

	if domain.RequiresMRMode(fi.MRModeVirtAddr) {
		domain.Close()
		fabric.Close()
		discovery.Close()
		return nil, errors.New("xfer: provider requires FI_MR_VIRT_ADDR, which this transfer engine does not support")
	}

	return &bringup{
		discovery: discovery,
		fabric:    fabric,
		domain:    domain,
		pool:      NewWorkerPool(domain, cfg.maxWorkers(), cfg),
	}, nil
}

func (b *bringup) Close() {
	if b == nil {
		return
	}
	b.domain.Close()
	b.fabric.Close()
	b.discovery.Close()
}

// endpointBundle is one fully bound, enabled endpoint and the AV/CQ/EQ it
// was opened against. Get opens two of these in turn (a throwaway
// listening endpoint, then the real session endpoint); Put opens one.
type endpointBundle struct {
	av *fi.AddressVector
	cq *fi.CompletionQueue
	eq *fi.EventQueue
	ep *fi.Endpoint
}

// openEndpointBundle opens and enables an endpoint against desc, binding
// a fresh address vector, completion queue, and event queue to it.
func (b *bringup) openEndpointBundle(desc fi.Descriptor) (*endpointBundle, error) {
	av, err := b.domain.OpenAddressVector(&fi.AddressVectorAttr{Type: fi.AVTypeMap})
	if err != nil {
		return nil, fmt.Errorf("xfer: open address vector: %w", err)
	}
	cq, err := b.domain.OpenCompletionQueue(&fi.CompletionQueueAttr{Format: fi.CQFormatMsg})
	if err != nil {
		av.Close()
		return nil, fmt.Errorf("xfer: open completion queue: %w", err)
	}
	eq, err := b.fabric.OpenEventQueue(nil)
	if err != nil {
		cq.Close()
		av.Close()
		return nil, fmt.Errorf("xfer: open event queue: %w", err)
	}
	ep, err := desc.OpenEndpoint(b.domain)
	if err != nil {
		eq.Close()
		cq.Close()
		av.Close()
		return nil, fmt.Errorf("xfer: open endpoint: %w", err)
	}
	if err := ep.BindCompletionQueue(cq, fi.BindSend|fi.BindRecv); err != nil {
		ep.Close()
		eq.Close()
		cq.Close()
		av.Close()
		return nil, fmt.Errorf("xfer: bind completion queue: %w", err)
	}
	if err := ep.BindEventQueue(eq, 0); err != nil {
		ep.Close()
		eq.Close()
		cq.Close()
		av.Close()
		return nil, fmt.Errorf("xfer: bind event queue: %w", err)
	}
	if err := ep.BindAddressVector(av, 0); err != nil {
		ep.Close()
		eq.Close()
		cq.Close()
		av.Close()
		return nil, fmt.Errorf("xfer: bind address vector: %w", err)
	}
	if err := ep.Enable(); err != nil {
		ep.Close()
		eq.Close()
		cq.Close()
		av.Close()
		return nil, fmt.Errorf("xfer: enable endpoint: %w", err)
	}
	return &endpointBundle{av: av, cq: cq, eq: eq, ep: ep}, nil
}

func (eb *endpointBundle) Close() {
	if eb == nil {
		return
	}
	eb.ep.Close()
	eb.eq.Close()
	eb.cq.Close()
	eb.av.Close()
}

// sendWithEAGAINRetry posts buf to dest, draining cq and retrying when the
// provider reports its send queue is temporarily full, matching the
// reference get()'s ack retry loop.
func sendWithEAGAINRetry(ep *fi.Endpoint, cq *fi.CompletionQueue, region *fi.MemoryRegion, dest fi.Address) error {
	for {
		_, err := ep.PostSend(&fi.SendRequest{Region: region, Dest: dest})
		if err == nil {
			return nil
		}
		if !errors.Is(err, fi.ErrAgain) {
			return err
		}
		if _, drainErr := cq.ReadContext(); drainErr != nil && !errors.Is(drainErr, fi.ErrNoCompletion) {
			return fmt.Errorf("xfer: drain completion queue while retrying send: %w", drainErr)
		}
	}
}

// Get runs the receiver personality end to end. It opens a throwaway
// listening endpoint bound to bindAddr (the provider's wildcard address
// when bindAddr is empty), blocks for the transmitter's initial message,
// validates it, opens the real per-session endpoint, acks the
// transmitter, and hands the session to the worker pool until the
// transfer drains.
func Get(cfg *Config, bindAddr string) error {
	if cfg == nil {
		cfg = &Config{}
	}

	opts := baseDiscoverOptions()
	opts = append(opts, cfg.Discover...)
	opts = append(opts, fi.WithEndpointType(fi.EndpointTypeRDM), fi.WithService(ServiceName))
	if bindAddr != "" {
		opts = append(opts, fi.WithNode(bindAddr))
	}

	b, err := openBringup(cfg, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	descs := b.discovery.Descriptors()
	if len(descs) == 0 {
		return errors.New("xfer: no fabric providers discovered")
	}
	desc := descs[0]

	// The listening endpoint exists only to learn the transmitter's
	// advertised address. The reference implementation re-discovers with
	// dest_addr set to that address before opening the real session
	// endpoint; this port's discovery has no dest_addr hint, so both
	// endpoints open against the same descriptor instead.
	listen, err := b.openEndpointBundle(desc)
	if err != nil {
		return fmt.Errorf("xfer: listening endpoint: %w", err)
	}
	defer listen.Close()

	var keys KeySource
	initBuf := NewByteBuf(wire.InitialMsgSize)
	if err := registerBuf(b.domain, &initBuf.Hdr, fi.MRAccessLocal, keys.Next()); err != nil {
		return fmt.Errorf("xfer: register initial buffer: %w", err)
	}
	defer deregisterBuf(&initBuf.Hdr)

	initCtx, err := initBuf.Hdr.NewCompletionContext()
	if err != nil {
		return err
	}
	if _, err := listen.ep.PostRecv(&fi.RecvRequest{Region: initBuf.Hdr.MR, Context: initCtx}); err != nil {
		return fmt.Errorf("xfer: post initial receive: %w", err)
	}

	for {
		ev, err := listen.cq.ReadContext()
		if err != nil {
			if errors.Is(err, fi.ErrNoCompletion) {
				continue
			}
			return fmt.Errorf("xfer: awaiting initial message: %w", err)
		}
		if _, err := ev.Resolve(); err != nil {
			return err
		}
		if ev.Flags&desiredRxFlags != desiredRxFlags {
			return fmt.Errorf("xfer: expected initial-message flags 0x%x, got 0x%x", desiredRxFlags, ev.Flags&desiredRxFlags)
		}
		if ev.Len != wire.InitialMsgSize {
			return fmt.Errorf("xfer: initial message is incorrect size")
		}
		break
	}

	initMsg, err := wire.DecodeInitialMsg(initBuf.Hdr.Raw)
	if err != nil {
		return fmt.Errorf("xfer: decode initial message: %w", err)
	}
	if initMsg.NSources != 1 || initMsg.ID != 0 {
		return fmt.Errorf("xfer: unexpected initial message: nsources=%d id=%d", initMsg.NSources, initMsg.ID)
	}

	session, err := b.openEndpointBundle(desc)
	if err != nil {
		return fmt.Errorf("xfer: session endpoint: %w", err)
	}
	defer session.Close()

	peerAddr, err := session.av.InsertRaw(initMsg.Addr[:initMsg.AddrLen], 0)
	if err != nil {
		return fmt.Errorf("xfer: insert peer address: %w", err)
	}

	receiver, err := NewReceiver(session.av, b.domain, cfg.depth(), cfg)
	if err != nil {
		return fmt.Errorf("xfer: new receiver: %w", err)
	}
	receiver.EP = session.ep
	receiver.EQ = session.eq
	receiver.CQ = session.cq
	receiver.PeerAddr = peerAddr

	ackBuf := NewByteBuf(wire.AckMsgSize)
	if err := registerBuf(b.domain, &ackBuf.Hdr, fi.MRAccessLocal, receiver.Keys.Next()); err != nil {
		return fmt.Errorf("xfer: register ack buffer: %w", err)
	}
	defer deregisterBuf(&ackBuf.Hdr)

	name, err := session.ep.Name()
	if err != nil {
		return fmt.Errorf("xfer: resolve session endpoint address: %w", err)
	}
	var ack wire.AckMsg
	ack.AddrLen = uint32(len(name))
	copy(ack.Addr[:], name)
	ack.Encode(ackBuf.Hdr.Raw)

	if err := sendWithEAGAINRetry(session.ep, session.cq, ackBuf.Hdr.MR, peerAddr); err != nil {
		return fmt.Errorf("xfer: post ack: %w", err)
	}

	sink := NewSink(defaultEntireLen())
	xs := NewSession(receiver, sink, cfg.depth())

	var wg sync.WaitGroup
	if _, err := b.pool.AssignSession(xs, &wg); err != nil {
		return fmt.Errorf("xfer: assign session: %w", err)
	}

	return b.pool.JoinAll(&wg)
}

// Put runs the transmitter personality end to end. It opens the real
// endpoint directly against the discovered descriptor, inserts peerAddr
// as the bootstrap address the initial message is sent to, fills in the
// initial handshake fields, and hands the session to the worker pool
// until the transfer drains. The handshake itself — sending the initial
// message, awaiting the ack, and replacing the bootstrap address with
// the receiver's advertised one — happens inside Transmitter.start, the
// first pass a worker runs over the session.
func Put(cfg *Config, peerAddr string) error {
	if cfg == nil {
		cfg = &Config{}
	}
	if peerAddr == "" {
		return errors.New("xfer: put: peer address required")
	}

	opts := baseDiscoverOptions()
	opts = append(opts, cfg.Discover...)
	opts = append(opts, fi.WithEndpointType(fi.EndpointTypeRDM), fi.WithService(ServiceName))

	b, err := openBringup(cfg, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	descs := b.discovery.Descriptors()
	if len(descs) == 0 {
		return errors.New("xfer: no fabric providers discovered")
	}

	eb, err := b.openEndpointBundle(descs[0])
	if err != nil {
		return fmt.Errorf("xfer: session endpoint: %w", err)
	}
	defer eb.Close()

	bootstrapAddr, err := eb.av.InsertService(peerAddr, ServiceName, 0)
	if err != nil {
		return fmt.Errorf("xfer: insert peer address: %w", err)
	}

	transmitter, err := NewTransmitter(eb.av, b.domain, cfg.depth(), cfg)
	if err != nil {
		return fmt.Errorf("xfer: new transmitter: %w", err)
	}
	transmitter.EP = eb.ep
	transmitter.EQ = eb.eq
	transmitter.CQ = eb.cq
	transmitter.PeerAddr = bootstrapAddr

	name, err := eb.ep.Name()
	if err != nil {
		return fmt.Errorf("xfer: resolve own endpoint address: %w", err)
	}
	transmitter.initial.NSources = 1
	transmitter.initial.ID = 0
	transmitter.initial.AddrLen = uint32(len(name))
	copy(transmitter.initial.Addr[:], name)

	source := NewSource(defaultEntireLen())
	xs := NewSession(transmitter, source, cfg.depth())

	var wg sync.WaitGroup
	if _, err := b.pool.AssignSession(xs, &wg); err != nil {
		return fmt.Errorf("xfer: assign session: %w", err)
	}

	return b.pool.JoinAll(&wg)
}
