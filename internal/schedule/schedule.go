// Package schedule は同期サイクルの実行可能時間帯（時刻ウィンドウ）を扱う。
// ウィンドウは日付をまたぐ（最小時刻 > 最大時刻）設定にも対応する。
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// day は1日の長さ。
const day = 24 * time.Hour

// TimeOfDay は0時からの経過時間で表した時刻。
type TimeOfDay time.Duration

// Of は時刻tの壁時計上の時刻をTimeOfDayとして返す。
// 夏時間の切り替え日も0時からの経過時間ではなく表示上の時刻を使う。
func Of(t time.Time) TimeOfDay {
	hour, minute, second := t.Clock()
	return TimeOfDay(time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second +
		time.Duration(t.Nanosecond()))
}

// At は時・分からTimeOfDayを生成する。
func At(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ParseTimeOfDay は "HH:MM" または "HH:MM:SS" 形式の文字列をパースする。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Of(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
}

// String は "HH:MM:SS" 形式で返す。
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// CalculateWaitTime は次の同期サイクルを開始できるまでの待ち時間を計算する。
// 現在時刻が許可ウィンドウ内にある場合、またはウィンドウが未設定の場合はnilを返す。
//
// minimum > maximum の場合はウィンドウが0時をまたぐ（反転ウィンドウ）と解釈し、
// current >= minimum または current <= maximum のときに実行を許可する。
// どちらの形でも境界値と一致する時刻はウィンドウ内として扱う。
func CalculateWaitTime(current TimeOfDay, minimum, maximum *TimeOfDay) *time.Duration {
	if minimum == nil && maximum == nil {
		return nil
	}

	inverted := minimum != nil && maximum != nil && *minimum > *maximum
	if inverted {
		if current < *minimum && current > *maximum {
			return durationPtr(time.Duration(*minimum - current))
		}
		return nil
	}

	if minimum != nil && current < *minimum {
		return durationPtr(time.Duration(*minimum - current))
	}
	if maximum != nil && current > *maximum {
		var open TimeOfDay
		if minimum != nil {
			open = *minimum
		}
		return durationPtr(day + time.Duration(open) - time.Duration(current))
	}
	return nil
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
