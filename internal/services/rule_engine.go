package services

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"
)

// Roller 随机源，测试中可替换为固定值
type Roller interface {
	// Float64 返回 [0,1) 的均匀随机数
	Float64() float64
	// IntRange 返回 [min,max] 的均匀随机整数
	IntRange(min, max int64) int64
}

// RuleEngine 线程安全的随机判定引擎
type RuleEngine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRuleEngine 使用加密随机种子创建
func NewRuleEngine() *RuleEngine {
	return NewSeededRuleEngine(newSeed())
}

// NewSeededRuleEngine 使用固定种子创建，结果可复现
func NewSeededRuleEngine(seed int64) *RuleEngine {
	return &RuleEngine{rng: rand.New(rand.NewSource(seed))}
}

func (re *RuleEngine) Float64() float64 {
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.rng.Float64()
}

func (re *RuleEngine) IntRange(min, max int64) int64 {
	if max <= min {
		return min
	}
	re.mu.Lock()
	defer re.mu.Unlock()
	return min + re.rng.Int63n(max-min+1)
}

func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
