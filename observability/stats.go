package observability

import (
	"os"
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/process"
)

// NetworkSnapshot aggregates the traffic counters for display
type NetworkSnapshot struct {
	DatagramsIn       uint64 `json:"datagrams_in"`
	DatagramsOut      uint64 `json:"datagrams_out"`
	FramesIn          uint64 `json:"frames_in"`
	FramesOut         uint64 `json:"frames_out"`
	MalformedDropped  uint64 `json:"malformed_dropped"`
	DuplicatesDropped uint64 `json:"duplicates_dropped"`
	IgnoredSelf       uint64 `json:"ignored_self"`
	ConnectionsIn     uint64 `json:"connections_in"`
	ConnectionsOut    uint64 `json:"connections_out"`
	ConnectFailures   uint64 `json:"connect_failures"`
	PeersReaped       uint64 `json:"peers_reaped"`
	MulticastRejoins  uint64 `json:"multicast_rejoins"`
	AllocMemMb        uint64 `json:"alloc_mem_mb"`
	NumGC             uint32 `json:"num_gc"`
	NumGoroutine      int    `json:"num_goroutine"`
}

// NetworkStats counts what the core did with the network.
// Every counter is updated atomically so any loop may increment it.
type NetworkStats struct {
	DatagramsIn       uint64
	DatagramsOut      uint64
	FramesIn          uint64
	FramesOut         uint64
	MalformedDropped  uint64
	DuplicatesDropped uint64
	IgnoredSelf       uint64
	ConnectionsIn     uint64
	ConnectionsOut    uint64
	ConnectFailures   uint64
	PeersReaped       uint64
	MulticastRejoins  uint64
}

func NewNetworkStats() *NetworkStats {
	return &NetworkStats{}
}

func (s *NetworkStats) IncrDatagramsIn()       { atomic.AddUint64(&s.DatagramsIn, 1) }
func (s *NetworkStats) IncrDatagramsOut()      { atomic.AddUint64(&s.DatagramsOut, 1) }
func (s *NetworkStats) IncrFramesIn()          { atomic.AddUint64(&s.FramesIn, 1) }
func (s *NetworkStats) IncrFramesOut()         { atomic.AddUint64(&s.FramesOut, 1) }
func (s *NetworkStats) IncrMalformedDropped()  { atomic.AddUint64(&s.MalformedDropped, 1) }
func (s *NetworkStats) IncrDuplicatesDropped() { atomic.AddUint64(&s.DuplicatesDropped, 1) }
func (s *NetworkStats) IncrIgnoredSelf()       { atomic.AddUint64(&s.IgnoredSelf, 1) }
func (s *NetworkStats) IncrConnectionsIn()     { atomic.AddUint64(&s.ConnectionsIn, 1) }
func (s *NetworkStats) IncrConnectionsOut()    { atomic.AddUint64(&s.ConnectionsOut, 1) }
func (s *NetworkStats) IncrConnectFailures()   { atomic.AddUint64(&s.ConnectFailures, 1) }
func (s *NetworkStats) IncrMulticastRejoins()  { atomic.AddUint64(&s.MulticastRejoins, 1) }

func (s *NetworkStats) AddPeersReaped(n int) {
	if n > 0 {
		atomic.AddUint64(&s.PeersReaped, uint64(n))
	}
}

// Snapshot loads every counter plus the Go runtime memory figures
func (s *NetworkStats) Snapshot() NetworkSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return NetworkSnapshot{
		DatagramsIn:       atomic.LoadUint64(&s.DatagramsIn),
		DatagramsOut:      atomic.LoadUint64(&s.DatagramsOut),
		FramesIn:          atomic.LoadUint64(&s.FramesIn),
		FramesOut:         atomic.LoadUint64(&s.FramesOut),
		MalformedDropped:  atomic.LoadUint64(&s.MalformedDropped),
		DuplicatesDropped: atomic.LoadUint64(&s.DuplicatesDropped),
		IgnoredSelf:       atomic.LoadUint64(&s.IgnoredSelf),
		ConnectionsIn:     atomic.LoadUint64(&s.ConnectionsIn),
		ConnectionsOut:    atomic.LoadUint64(&s.ConnectionsOut),
		ConnectFailures:   atomic.LoadUint64(&s.ConnectFailures),
		PeersReaped:       atomic.LoadUint64(&s.PeersReaped),
		MulticastRejoins:  atomic.LoadUint64(&s.MulticastRejoins),
		AllocMemMb:        m.Alloc / 1024 / 1024,
		NumGC:             m.NumGC,
		NumGoroutine:      runtime.NumGoroutine(),
	}
}

// ProcessStats is the OS view of this process
type ProcessStats struct {
	Pid        int32
	RSS        uint64
	CPUPercent float64
	Status     string
}

// SelfStats retrieves technical metrics (Memory, CPU, and OS Status) for the current process.
func SelfStats() (ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}, err
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return ProcessStats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return ProcessStats{}, err
	}
	status, err := p.Status()
	if err != nil {
		return ProcessStats{}, err
	}
	return ProcessStats{Pid: p.Pid, RSS: memInfo.RSS, CPUPercent: cpuPercent, Status: status}, nil
}
