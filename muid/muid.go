// Package muid generates monotonically unique 64-bit ids for state machine instances.
//
// Layout, most significant bits first:
//
//	[timestamp ms since Epoch][machine id][shard][counter]
//
// Generation is lock-free (a single CAS loop per id) and the default generators are
// sharded across CPUs so concurrent construction of many machines does not contend.
package muid

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"math/bits"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the bit layout of a Generator. Zero fields take the defaults.
type Config struct {
	MachineID       uint64
	TimestampBitLen int
	MachineIDBitLen int
	// Epoch in unix milliseconds.
	Epoch int64
}

// DefaultConfig derives the machine id from the hostname, or from crypto/rand when the
// hostname is unavailable.
var DefaultConfig = sync.OnceValue(func() Config {
	config := Config{
		TimestampBitLen: 40,
		MachineIDBitLen: 14,
		Epoch:           1700000000000,
	}
	mask := uint64(1)<<config.MachineIDBitLen - 1
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		hash := fnv.New64a()
		hash.Write([]byte(hostname))
		config.MachineID = hash.Sum64() & mask
	} else {
		var b [8]byte
		_, _ = rand.Read(b[:])
		config.MachineID = binary.BigEndian.Uint64(b[:]) & mask
	}
	return config
})

// MUID is a monotonically unique id.
type MUID uint64

// String returns the base32 form of the id.
func (m MUID) String() string {
	return strconv.FormatUint(uint64(m), 32)
}

// Generator hands out MUIDs for one (machine, shard) pair.
type Generator struct {
	epoch          int64
	counterBitLen  int
	counterMask    uint64
	timestampShift int
	prefix         uint64 // machine id and shard, already shifted
	// state packs the last timestamp above counterBitLen and the counter below it.
	state atomic.Uint64
}

// NewGenerator builds a generator for shard shardIndex of 1<<shardBitLen shards.
func NewGenerator(config Config, shardIndex uint64, shardBitLen int) *Generator {
	defaults := DefaultConfig()
	if config.TimestampBitLen <= 0 {
		config.TimestampBitLen = defaults.TimestampBitLen
	}
	if config.MachineIDBitLen <= 0 {
		config.MachineIDBitLen = defaults.MachineIDBitLen
	}
	if config.Epoch <= 0 {
		config.Epoch = defaults.Epoch
	}
	if config.MachineID == 0 {
		config.MachineID = defaults.MachineID
	}
	counterBitLen := 64 - config.TimestampBitLen - config.MachineIDBitLen - shardBitLen
	machineID := config.MachineID & (uint64(1)<<config.MachineIDBitLen - 1)
	shardIndex &= uint64(1)<<shardBitLen - 1

	generator := &Generator{
		epoch:          config.Epoch,
		counterBitLen:  counterBitLen,
		counterMask:    uint64(1)<<counterBitLen - 1,
		timestampShift: config.MachineIDBitLen + shardBitLen + counterBitLen,
		prefix:         machineID<<(shardBitLen+counterBitLen) | shardIndex<<counterBitLen,
	}
	generator.state.Store(1)
	return generator
}

// ID returns the next id. Clock regressions reuse the last timestamp and a counter
// overflow advances the timestamp by one virtual millisecond.
func (g *Generator) ID() MUID {
	for {
		now := uint64(time.Now().UnixMilli() - g.epoch)
		previous := g.state.Load()
		last := previous >> g.counterBitLen
		counter := previous & g.counterMask
		switch {
		case now < last:
			now = last
			fallthrough
		case now == last:
			if counter >= g.counterMask {
				now++
				counter = 1
			} else {
				counter++
			}
		default:
			counter = 1
		}
		if g.state.CompareAndSwap(previous, now<<g.counterBitLen|counter) {
			return MUID(now<<g.timestampShift | g.prefix | counter)
		}
	}
}

type shards struct {
	pool []*Generator
	next atomic.Uint64
}

var defaultShards = sync.OnceValue(func() *shards {
	shardBitLen := 0
	if cpus := runtime.NumCPU(); cpus > 1 {
		shardBitLen = min(bits.Len(uint(cpus-1)), 5)
	}
	pool := make([]*Generator, 1<<shardBitLen)
	for i := range pool {
		pool[i] = NewGenerator(DefaultConfig(), uint64(i), shardBitLen)
	}
	return &shards{pool: pool}
})

// Make returns an id from the default sharded generators.
func Make() MUID {
	s := defaultShards()
	return s.pool[s.next.Add(1)%uint64(len(s.pool))].ID()
}

// MakeString is Make().String().
func MakeString() string {
	return Make().String()
}
