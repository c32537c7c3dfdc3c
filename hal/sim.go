package hal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath/pool"
)

type slotKey struct {
	pool int
	buf  int
}

type slot struct {
	mem    []byte
	addr   PhysAddr
	descID uint32
	armed  bool
}

// Sim is an in-memory radio. It keeps track of mapped buffers, accepts "buffer
// ready" commands and writes received frames into armed buffers the same way
// the device DMAs them: payload first byte at the pool's headroom offset.
type Sim struct {
	guard  sync.Mutex
	status Status

	mu       sync.Mutex
	l        *logrus.Logger
	pools    []pool.Info
	slots    map[slotKey]*slot
	byAddr   map[PhysAddr]slotKey
	armed    map[int][]slotKey
	nextAddr PhysAddr
	cmds     int

	// Failure injection, consulted on every call when set.
	FailMap   func(poolID, bufID int) bool
	FailUnmap func(poolID, bufID int) bool
	FailCmd   func(descID uint32) bool
}

func NewSim(l *logrus.Logger, m *pool.Map) *Sim {
	return &Sim{
		status:   StatusEnabled,
		l:        l,
		pools:    m.Pools(),
		slots:    make(map[slotKey]*slot),
		byAddr:   make(map[PhysAddr]slotKey),
		armed:    make(map[int][]slotKey),
		nextAddr: 0x1000,
	}
}

func (s *Sim) Lock()   { s.guard.Lock() }
func (s *Sim) Unlock() { s.guard.Unlock() }

func (s *Sim) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sim) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Held reports whether the guard is currently taken by someone.
func (s *Sim) Held() bool {
	if s.guard.TryLock() {
		s.guard.Unlock()
		return false
	}
	return true
}

func (s *Sim) MapRx(poolID, bufID int, mem []byte) (PhysAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailMap != nil && s.FailMap(poolID, bufID) {
		return 0, fmt.Errorf("%w: injected for pool %d buf %d", ErrMapRx, poolID, bufID)
	}
	if poolID < 0 || poolID >= len(s.pools) || bufID < 0 || bufID >= s.pools[poolID].NumBufs {
		return 0, fmt.Errorf("%w: pool %d buf %d out of range", ErrMapRx, poolID, bufID)
	}
	if len(mem) < s.pools[poolID].AllocSize() {
		return 0, fmt.Errorf("%w: buffer of %d bytes is smaller than %d", ErrMapRx, len(mem), s.pools[poolID].AllocSize())
	}

	k := slotKey{pool: poolID, buf: bufID}
	if _, ok := s.slots[k]; ok {
		return 0, fmt.Errorf("%w: pool %d buf %d already mapped", ErrMapRx, poolID, bufID)
	}

	addr := s.nextAddr
	s.nextAddr += PhysAddr(len(mem))
	s.slots[k] = &slot{mem: mem, addr: addr}
	s.byAddr[addr] = k
	return addr, nil
}

func (s *Sim) UnmapRx(poolID, bufID int, pktLen int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUnmap != nil && s.FailUnmap(poolID, bufID) {
		return nil, fmt.Errorf("%w: injected for pool %d buf %d", ErrUnmapRx, poolID, bufID)
	}

	k := slotKey{pool: poolID, buf: bufID}
	sl, ok := s.slots[k]
	if !ok {
		return nil, fmt.Errorf("%w: pool %d buf %d is not mapped", ErrUnmapRx, poolID, bufID)
	}
	if pktLen < 0 || pktLen > len(sl.mem)-s.pools[poolID].Headroom {
		return nil, fmt.Errorf("%w: packet length %d does not fit pool %d", ErrUnmapRx, pktLen, poolID)
	}

	s.disarm(k)
	delete(s.slots, k)
	delete(s.byAddr, sl.addr)
	return sl.mem, nil
}

func (s *Sim) SendRxCmd(cmd RxBufCmd, descID uint32, poolID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCmd != nil && s.FailCmd(descID) {
		return fmt.Errorf("%w: injected for descriptor %d", ErrCmdSend, descID)
	}

	k, ok := s.byAddr[cmd.Addr]
	if !ok || k.pool != poolID {
		return fmt.Errorf("%w: address %#x is not mapped in pool %d", ErrCmdSend, cmd.Addr, poolID)
	}

	sl := s.slots[k]
	if !sl.armed {
		sl.armed = true
		sl.descID = descID
		s.armed[poolID] = append(s.armed[poolID], k)
	}
	s.cmds++
	return nil
}

// Receive writes frame into the first armed buffer of the smallest pool that
// fits it and returns the descriptor id the device would report.
func (s *Sim) Receive(frame []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]pool.Info, len(s.pools))
	copy(order, s.pools)
	sort.SliceStable(order, func(i, j int) bool { return order[i].BufSize < order[j].BufSize })

	for _, p := range order {
		if p.BufSize < len(frame) || len(s.armed[p.ID]) == 0 {
			continue
		}
		k := s.armed[p.ID][0]
		s.armed[p.ID] = s.armed[p.ID][1:]
		sl := s.slots[k]
		sl.armed = false
		copy(sl.mem[p.Headroom:], frame)
		s.l.WithField("descId", sl.descID).WithField("poolId", p.ID).WithField("len", len(frame)).
			Debug("Simulated frame received")
		return sl.descID, nil
	}

	return 0, fmt.Errorf("%w: %d bytes", ErrNoRxSlots, len(frame))
}

// ReceiveAt writes frame into the buffer behind a specific armed descriptor.
func (s *Sim) ReceiveAt(poolID, bufID int, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := slotKey{pool: poolID, buf: bufID}
	sl, ok := s.slots[k]
	if !ok || !sl.armed {
		return fmt.Errorf("%w: pool %d buf %d is not armed", ErrNoRxSlots, poolID, bufID)
	}
	headroom := s.pools[poolID].Headroom
	if len(frame) > len(sl.mem)-headroom {
		return fmt.Errorf("%w: %d bytes do not fit pool %d", ErrNoRxSlots, len(frame), poolID)
	}

	s.disarm(k)
	copy(sl.mem[headroom:], frame)
	return nil
}

func (s *Sim) disarm(k slotKey) {
	sl := s.slots[k]
	if sl == nil || !sl.armed {
		return
	}
	sl.armed = false
	q := s.armed[k.pool]
	for i := range q {
		if q[i] == k {
			s.armed[k.pool] = append(q[:i], q[i+1:]...)
			break
		}
	}
}

// Mapped reports whether (poolID, bufID) is currently mapped.
func (s *Sim) Mapped(poolID, bufID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[slotKey{pool: poolID, buf: bufID}]
	return ok
}

// Armed is the number of buffers the device could currently receive into.
func (s *Sim) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.armed {
		n += len(q)
	}
	return n
}

// Commands is the number of buffer ready commands accepted so far.
func (s *Sim) Commands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmds
}
