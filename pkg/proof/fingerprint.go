package proof

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/procfs"
)

/*
Fingerprint identifies the machine and process a run executed on. Fields
read from /proc are left empty on systems without it.
*/
type Fingerprint struct {
	Platform      string `json:"platform"`
	Machine       string `json:"machine"`
	Hostname      string `json:"hostname"`
	CPUCount      int    `json:"cpu_count"`
	GoVersion     string `json:"go_version"`
	MemoryTotal   uint64 `json:"memory_total,omitempty"`
	BootTime      uint64 `json:"boot_time,omitempty"`
	PID           int    `json:"pid"`
	PPID          int    `json:"ppid"`
	TimingEntropy string `json:"timing_entropy"`
}

// ResourceSnapshot is the process and host state at one instant.
type ResourceSnapshot struct {
	Goroutines      int       `json:"goroutines"`
	HeapAlloc       uint64    `json:"heap_alloc"`
	Sys             uint64    `json:"sys"`
	NumGC           uint32    `json:"num_gc"`
	CPUSeconds      float64   `json:"cpu_seconds,omitempty"`
	ResidentMemory  int       `json:"resident_memory,omitempty"`
	MemoryAvailable uint64    `json:"memory_available,omitempty"`
	LoadAverage     []float64 `json:"load_avg,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewFingerprint() Fingerprint {
	hostname, _ := os.Hostname()

	fingerprint := Fingerprint{
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		Machine:       runtime.GOARCH,
		Hostname:      hostname,
		CPUCount:      runtime.NumCPU(),
		GoVersion:     runtime.Version(),
		PID:           os.Getpid(),
		PPID:          os.Getppid(),
		TimingEntropy: timingEntropy(10000),
	}

	if fs, err := procfs.NewDefaultFS(); err == nil {
		if meminfo, err := fs.Meminfo(); err == nil && meminfo.MemTotal != nil {
			fingerprint.MemoryTotal = *meminfo.MemTotal * 1024
		}

		if stat, err := fs.Stat(); err == nil {
			fingerprint.BootTime = stat.BootTime
		}
	}

	return fingerprint
}

// Intact reports whether every field a genuine fingerprint always has is set.
func (fingerprint Fingerprint) Intact() bool {
	return fingerprint.CPUCount > 0 &&
		fingerprint.PID > 0 &&
		fingerprint.Platform != "" &&
		len(fingerprint.TimingEntropy) == sha256.Size*2
}

func (fingerprint Fingerprint) Hash() string {
	return hashJSON(fingerprint)
}

func TakeSnapshot() ResourceSnapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	snapshot := ResourceSnapshot{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  stats.HeapAlloc,
		Sys:        stats.Sys,
		NumGC:      stats.NumGC,
		Timestamp:  time.Now(),
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return snapshot
	}

	if load, err := fs.LoadAvg(); err == nil {
		snapshot.LoadAverage = []float64{load.Load1, load.Load5, load.Load15}
	}

	if meminfo, err := fs.Meminfo(); err == nil && meminfo.MemAvailable != nil {
		snapshot.MemoryAvailable = *meminfo.MemAvailable * 1024
	}

	if self, err := fs.Self(); err == nil {
		if stat, err := self.Stat(); err == nil {
			snapshot.CPUSeconds = stat.CPUTime()
			snapshot.ResidentMemory = stat.ResidentMemory()
		}
	}

	return snapshot
}

/*
timingEntropy hashes the wall-clock cost of drawing rounds random words,
mixed with fresh random bytes.
*/
func timingEntropy(rounds int) string {
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)

	start := time.Now()
	accumulator := spin(rounds)
	elapsed := time.Since(start)

	return hashString(fmt.Sprintf("%d-%d-%d-%s", start.UnixNano(), elapsed.Nanoseconds(), accumulator, hex.EncodeToString(seed)))
}

func spin(rounds int) uint64 {
	var (
		accumulator uint64
		word        [8]byte
	)

	for i := 0; i < rounds; i++ {
		_, _ = rand.Read(word[:])
		accumulator ^= uint64(i) * binary.LittleEndian.Uint64(word[:]) % (1 << 32)
	}

	return accumulator
}

func nonce() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// hashJSON hashes the JSON encoding of v. Map keys are encoded sorted.
func hashJSON(v any) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return hashString(fmt.Sprintf("%v", v))
	}

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
