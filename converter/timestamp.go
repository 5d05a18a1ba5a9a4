package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/chronoflow/batch"
	"github.com/BaSui01/chronoflow/types"
)

// 支持的输出格式
const (
	FormatISO      = "iso"
	FormatRFC3339  = "rfc3339"
	FormatRFC2822  = "rfc2822"
	FormatUnix     = "unix"
	FormatUnixMS   = "unix_ms"
	FormatDate     = "date"
	FormatTime     = "time"
	FormatRelative = "relative"
)

// ParamTimezone Params 中指定输出时区的键（IANA 名称）
const ParamTimezone = "timezone"

// millisThreshold 大于该值的数字按毫秒解析
const millisThreshold = 1e11

// Timestamp 把 Unix 时间戳（秒或毫秒）或 RFC3339 字符串转换为多种格式
type Timestamp struct {
	now func() time.Time
}

// NewTimestamp 创建时间戳转换器
func NewTimestamp() *Timestamp {
	return &Timestamp{now: time.Now}
}

// Convert 实现 batch.Converter，返回 format -> 值 的映射
func (c *Timestamp) Convert(ctx context.Context, payload any, outputSpec []string, cc batch.ConvertContext) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := parseTimestamp(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidInput, err.Error()).WithCause(err)
	}

	loc := time.UTC
	if tz, ok := cc.Params[ParamTimezone].(string); ok && tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidInput, fmt.Sprintf("unknown timezone %q", tz)).WithCause(err)
		}
		loc = l
	}
	t = t.In(loc)

	if len(outputSpec) == 0 {
		outputSpec = []string{FormatISO}
	}

	out := make(map[string]any, len(outputSpec))
	for _, f := range outputSpec {
		key := strings.ToLower(strings.TrimSpace(f))
		v, err := c.format(t, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (c *Timestamp) format(t time.Time, f string) (any, error) {
	switch f {
	case FormatISO:
		return t.Format("2006-01-02T15:04:05.000Z07:00"), nil
	case FormatRFC3339:
		return t.Format(time.RFC3339), nil
	case FormatRFC2822:
		return t.Format(time.RFC1123Z), nil
	case FormatUnix:
		return t.Unix(), nil
	case FormatUnixMS:
		return t.UnixMilli(), nil
	case FormatDate:
		return t.Format(time.DateOnly), nil
	case FormatTime:
		return t.Format(time.TimeOnly), nil
	case FormatRelative:
		return relative(c.now().Sub(t)), nil
	default:
		return nil, types.NewError(types.ErrInvalidInput, fmt.Sprintf("unsupported output format %q", f))
	}
}

// parseTimestamp 支持整数、浮点、数字字符串与 RFC3339 字符串
func parseTimestamp(payload any) (time.Time, error) {
	switch v := payload.(type) {
	case int:
		return fromNumber(float64(v))
	case int64:
		return fromNumber(float64(v))
	case int32:
		return fromNumber(float64(v))
	case uint64:
		return fromNumber(float64(v))
	case float64:
		return fromNumber(v)
	case float32:
		return fromNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
		}
		return fromNumber(f)
	case string:
		s := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromNumber(f)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
		}
		return t, nil
	case time.Time:
		return v, nil
	case nil:
		return time.Time{}, fmt.Errorf("timestamp is required")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", payload)
	}
}

func fromNumber(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("invalid timestamp %v", f)
	}
	if f > millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// relative 返回 "3 hours ago" / "in 2 days" 形式的描述
func relative(d time.Duration) string {
	future := d < 0
	if future {
		d = -d
	}

	var n int64
	var unit string
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		n, unit = int64(d/time.Minute), "minute"
	case d < 24*time.Hour:
		n, unit = int64(d/time.Hour), "hour"
	case d < 30*24*time.Hour:
		n, unit = int64(d/(24*time.Hour)), "day"
	case d < 365*24*time.Hour:
		n, unit = int64(d/(30*24*time.Hour)), "month"
	default:
		n, unit = int64(d/(365*24*time.Hour)), "year"
	}
	if n != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}
