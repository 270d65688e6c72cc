package rules

import (
	"fmt"
	"math"
)

// Kind 区分策略的种类。
type Kind int

const (
	// KindNoRule 表示没有任何 host/path 规则命中，请求不受缓存管理。
	KindNoRule Kind = iota
	// KindDefault 表示规则命中但值为空，显式要求按默认方式（不缓存）处理。
	KindDefault
	// KindNever 禁止读写缓存。
	KindNever
	// KindUnlimited 表示缓存条目永久新鲜。
	KindUnlimited
	// KindMaxAge 表示缓存条目在 MaxAgeSeconds 秒内新鲜。
	KindMaxAge
)

// Policy 是一次规则解析的结果。
type Policy struct {
	Kind          Kind
	MaxAgeSeconds int64
}

// NoRule 返回未命中规则时的策略。
func NoRule() Policy { return Policy{Kind: KindNoRule} }

// Default 返回显式置空规则的策略。
func Default() Policy { return Policy{Kind: KindDefault} }

// Never 返回禁止缓存的策略。
func Never() Policy { return Policy{Kind: KindNever} }

// Unlimited 返回永久缓存策略。
func Unlimited() Policy { return Policy{Kind: KindUnlimited} }

// MaxAge 返回 n 秒新鲜期策略，n=0 表示每次都需要再验证。
func MaxAge(n int64) Policy { return Policy{Kind: KindMaxAge, MaxAgeSeconds: n} }

// Cacheable 报告该策略是否允许读写磁盘缓存。
func (p Policy) Cacheable() bool {
	return p.Kind == KindUnlimited || p.Kind == KindMaxAge
}

func (p Policy) String() string {
	switch p.Kind {
	case KindNoRule:
		return "no-rule"
	case KindDefault:
		return "default"
	case KindNever:
		return "never"
	case KindUnlimited:
		return "unlimited"
	case KindMaxAge:
		return fmt.Sprintf("max-age=%d", p.MaxAgeSeconds)
	default:
		return fmt.Sprintf("kind(%d)", int(p.Kind))
	}
}

// ParsePolicy 将配置中的原始值翻译为 Policy：
// true → Unlimited，false → Never，非负整数 → MaxAge，nil → Default。
// 配置解码器可能把整数交付为 int64/uint64/float64，这里统一接受。
func ParsePolicy(raw any) (Policy, error) {
	switch v := raw.(type) {
	case nil:
		return Default(), nil
	case bool:
		if v {
			return Unlimited(), nil
		}
		return Never(), nil
	case int:
		return maxAgeFromInt(int64(v))
	case int8:
		return maxAgeFromInt(int64(v))
	case int16:
		return maxAgeFromInt(int64(v))
	case int32:
		return maxAgeFromInt(int64(v))
	case int64:
		return maxAgeFromInt(v)
	case uint:
		return maxAgeFromUint(uint64(v))
	case uint8:
		return maxAgeFromUint(uint64(v))
	case uint16:
		return maxAgeFromUint(uint64(v))
	case uint32:
		return maxAgeFromUint(uint64(v))
	case uint64:
		return maxAgeFromUint(v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return Policy{}, fmt.Errorf("max age must be a whole number of seconds, got %v", v)
		}
		return maxAgeFromInt(int64(v))
	case Policy:
		return v, nil
	default:
		return Policy{}, fmt.Errorf("unsupported policy value %T", raw)
	}
}

func maxAgeFromInt(n int64) (Policy, error) {
	if n < 0 {
		return Policy{}, fmt.Errorf("max age must not be negative, got %d", n)
	}
	return MaxAge(n), nil
}

func maxAgeFromUint(n uint64) (Policy, error) {
	if n > math.MaxInt64 {
		return Policy{}, fmt.Errorf("max age overflows: %d", n)
	}
	return MaxAge(int64(n)), nil
}
