package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New 返回基于当前时间的 ULID，用于回测任务编号。
func New() string {
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return v.String()
}

// Generator 以固定种子生成可复现的 ULID 序列。
// 同一回测内订单编号只依赖于种子与订单时间，相同输入得到相同编号。
type Generator struct {
	entropy *ulid.MonotonicEntropy
	last    uint64
}

// NewGenerator 创建确定性编号生成器。
func NewGenerator(seed int64) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// Next 以 ts 为时间部分生成下一个编号，ts 回退时沿用上一次的时间戳。
func (g *Generator) Next(ts time.Time) string {
	ms := ulid.Timestamp(ts.UTC())
	if ms < g.last {
		ms = g.last
	}
	g.last = ms

	v, err := ulid.New(ms, g.entropy)
	if err != nil {
		panic(err)
	}
	return v.String()
}
