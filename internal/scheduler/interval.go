// Package scheduler 实现自动检测调度：cron 列表与 interval 两种计划语法、
// 定时触发检测和日志清理。
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule interval 语法的计划：
// interval:{unit}:{value}:{anchorISO}|offset={minutes}[|times=HH:MM,…]
// anchor 是 UTC 时刻，offset 是 anchor 所在时区相对 UTC 的分钟数（东为正），
// 用于确定地还原本地日历日。times 仅 day 单位可用，1..6 个严格递增的每日触发点。
type IntervalSchedule struct {
	Unit         string        // minute | hour | day
	Value        int           // minute 1..60, hour 1..24, day 1..7
	Anchor       time.Time     // UTC
	OffsetMin    int           // 东为正的分钟偏移
	Times        []string      // "HH:MM"，仅 day 单位
	timesOfDay   []time.Duration
}

// IsIntervalSchedule 判断计划串是否为 interval 语法
func IsIntervalSchedule(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "interval:")
}

// ParseInterval 解析 interval 计划串
func ParseInterval(s string) (*IntervalSchedule, error) {
	segments := strings.Split(strings.TrimSpace(s), "|")
	head := strings.SplitN(segments[0], ":", 4)
	if len(head) != 4 || head[0] != "interval" {
		return nil, fmt.Errorf("无效的 interval 计划: %s", s)
	}

	sched := &IntervalSchedule{Unit: head[1]}

	value, err := strconv.Atoi(head[2])
	if err != nil {
		return nil, fmt.Errorf("无效的间隔值: %s", head[2])
	}
	sched.Value = value
	switch sched.Unit {
	case "minute":
		if value < 1 || value > 60 {
			return nil, fmt.Errorf("minute 间隔必须在 1..60 内: %d", value)
		}
	case "hour":
		if value < 1 || value > 24 {
			return nil, fmt.Errorf("hour 间隔必须在 1..24 内: %d", value)
		}
	case "day":
		if value < 1 || value > 7 {
			return nil, fmt.Errorf("day 间隔必须在 1..7 内: %d", value)
		}
	default:
		return nil, fmt.Errorf("无效的间隔单位: %s", sched.Unit)
	}

	anchor, err := time.Parse(time.RFC3339, head[3])
	if err != nil {
		return nil, fmt.Errorf("无效的锚点时间: %s", head[3])
	}
	sched.Anchor = anchor.UTC()

	for _, seg := range segments[1:] {
		key, val, found := strings.Cut(seg, "=")
		if !found {
			return nil, fmt.Errorf("无效的计划参数: %s", seg)
		}
		switch key {
		case "offset":
			offset, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("无效的时区偏移: %s", val)
			}
			sched.OffsetMin = offset
		case "times":
			if sched.Unit != "day" {
				return nil, fmt.Errorf("times 仅支持 day 单位")
			}
			times := strings.Split(val, ",")
			if len(times) < 1 || len(times) > 6 {
				return nil, fmt.Errorf("times 必须是 1..6 个触发点")
			}
			var prev time.Duration = -1
			for _, t := range times {
				d, err := parseClock(t)
				if err != nil {
					return nil, err
				}
				if d <= prev {
					return nil, fmt.Errorf("times 必须严格递增: %s", val)
				}
				prev = d
				sched.Times = append(sched.Times, t)
				sched.timesOfDay = append(sched.timesOfDay, d)
			}
		default:
			return nil, fmt.Errorf("未知的计划参数: %s", key)
		}
	}
	return sched, nil
}

// parseClock 解析 HH:MM 为当日偏移
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("无效的触发时刻: %s", s)
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("无效的触发时刻: %s", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// Next 计算 now 之后的第一个触发时刻（UTC）。
func (s *IntervalSchedule) Next(now time.Time) time.Time {
	now = now.UTC()

	switch s.Unit {
	case "minute", "hour":
		interval := time.Duration(s.Value) * time.Minute
		if s.Unit == "hour" {
			interval = time.Duration(s.Value) * time.Hour
		}
		if s.Anchor.After(now) {
			return s.Anchor
		}
		elapsed := now.Sub(s.Anchor)
		k := elapsed/interval + 1
		return s.Anchor.Add(k * interval)
	default: // day
		return s.nextDay(now)
	}
}

// nextDay day 单位：用固定偏移还原本地日历，按 value 天为周期遍历每日触发点
func (s *IntervalSchedule) nextDay(now time.Time) time.Time {
	loc := time.FixedZone("sched", s.OffsetMin*60)

	times := s.timesOfDay
	if len(times) == 0 {
		// 未给 times 时用锚点的本地时刻
		anchorLocal := s.Anchor.In(loc)
		times = []time.Duration{
			time.Duration(anchorLocal.Hour())*time.Hour + time.Duration(anchorLocal.Minute())*time.Minute,
		}
	}

	anchorDay := localDayStart(s.Anchor, loc)
	from := now
	if s.Anchor.After(now) {
		from = s.Anchor
	}
	fromDay := localDayStart(from, loc)

	// 对齐到锚点起算的 value 天周期
	daysSince := int(fromDay.Sub(anchorDay) / (24 * time.Hour))
	cycle := daysSince / s.Value
	if daysSince < 0 {
		cycle = 0
	}

	for {
		day := anchorDay.AddDate(0, 0, cycle*s.Value)
		for _, t := range times {
			candidate := day.Add(t)
			if candidate.After(now) {
				return candidate.UTC()
			}
		}
		cycle++
	}
}

// localDayStart 求某时刻在固定偏移时区里的当日零点
func localDayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
