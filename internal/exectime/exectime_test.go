package exectime

import (
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanizeDuration(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0ms"},
		{1, "1ms"},
		{499.4, "499ms"},
		{499.5, "500ms"},
		{999.4, "999ms"},
		{1000, "1.00s"},
		{1234, "1.23s"},
		{1125, "1.13s"},
		{9999, "10.00s"},
		{10000, "10.00s"},
		{10001, "10.0s"},
		{12345, "12.3s"},
		{59999, "60.0s"},
		{60000, "1m 0.00s"},
		{65000, "1m 5.00s"},
		{90500, "1m 30.5s"},
		{120000, "2m 0s"},
		{150500, "2m 31s"},
		{3600000, "1h 0m 0s"},
		{3723456, "1h 2m 3s"},
		{86400000, "1d 0h 0m"},
		{90061000, "1d 1h 1m"},
		{2*86400000 + 5*3600000 + 59*60000 + 59999, "2d 5h 59m"},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatFloat(tt.ms, 'f', -1, 64), func(t *testing.T) {
			assert.Equal(t, tt.want, HumanizeDuration(tt.ms))
		})
	}
}

func TestHumanizeDurationSubSecondIsRoundedMillis(t *testing.T) {
	for ms := 0.0; ms < 1000; ms += 0.25 {
		want := strconv.Itoa(int(ms+0.5)) + "ms"
		require.Equal(t, want, HumanizeDuration(ms), "ms=%v", ms)
	}
}

var componentRe = regexp.MustCompile(`([0-9.]+)(d|h|m|s)`)

// TestHumanizeDurationRecombines parses the rendered components back and checks
// the total lands within the precision the formatter chose.
func TestHumanizeDurationRecombines(t *testing.T) {
	samples := []float64{1000, 1001, 1999, 4321, 10500, 59999, 61234, 119999, 120001,
		754321, 3599999, 3600001, 7322500, 86399999}
	for ms := 1000.0; ms < 4*3600000; ms = ms*1.37 + 17 {
		samples = append(samples, ms)
	}

	units := map[string]float64{"d": msPerDay, "h": msPerHour, "m": msPerMinute, "s": msPerSecond}
	for _, ms := range samples {
		out := HumanizeDuration(ms)
		var total float64
		tolerance := 5.0 // two decimals on seconds
		for _, m := range componentRe.FindAllStringSubmatch(out, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			require.NoError(t, err, out)
			total += v * units[m[2]]
			if m[2] == "s" {
				if i := indexByte(m[1], '.'); i < 0 {
					tolerance = 500
				} else if len(m[1])-i-1 == 1 {
					tolerance = 50
				}
			}
		}
		assert.InDelta(t, ms, total, tolerance, "ms=%v rendered %q", ms, out)
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func TestIsAfter(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Millisecond)

	assert.False(t, IsAfter(t0, t0), "equal instants must not supersede")
	assert.True(t, IsAfter(t1, t0))
	assert.False(t, IsAfter(t0, t1))
	assert.True(t, IsAfter(t0, time.Time{}), "anything stamped follows the zero reference")
	assert.False(t, IsAfter(time.Time{}, time.Time{}))
	assert.False(t, IsAfter(time.Time{}, t0))

	// Same instant in different zones is still a tie.
	assert.False(t, IsAfter(t0.In(time.FixedZone("X", 3600)), t0))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 1, 234567000, time.UTC)
	for _, s := range []string{
		"2024-03-01T10:00:01.234567Z",
		"2024-03-01T11:00:01.234567+01:00",
		"2024-03-01T10:00:01.234567",
		"2024-03-01 10:00:01.234567",
		"  2024-03-01T10:00:01.234567Z ",
	} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %v", s, got)
	}

	for _, s := range []string{"", "yesterday", "2024-13-01T00:00:00Z"} {
		_, err := ParseTimestamp(s)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, s)
	}
}

func TestComposeAbsolute(t *testing.T) {
	f := NewFormatter(Options{
		DisplayAbsoluteTimings: true,
		DisplayInUTC:           true,
	})
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(1234 * time.Millisecond)

	assert.Equal(t, "executed in 1.23s, finished 10:00:01 2024-03-01", f.Compose(start, end))
}

func TestComposeLocation(t *testing.T) {
	f := NewFormatter(Options{
		DisplayAbsoluteTimings: true,
		DisplayAbsoluteFormat:  "%H:%M",
		Template:               "${end_time}",
		Location:               time.FixedZone("CET", 3600),
	})
	end := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "11:00", f.Compose(end, end))

	utc := NewFormatter(Options{
		DisplayAbsoluteTimings: true,
		DisplayAbsoluteFormat:  "%H:%M",
		DisplayInUTC:           true,
		Template:               "${end_time}",
		Location:               time.FixedZone("CET", 3600),
	})
	assert.Equal(t, "10:00", utc.Compose(end, end))
}

func TestComposeRelative(t *testing.T) {
	end := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := NewFormatter(Options{
		DisplayAbsoluteTimings: false,
		Now:                    func() time.Time { return end.Add(3 * time.Minute) },
	})
	require.True(t, f.Relative())

	got := f.Compose(end.Add(-500*time.Millisecond), end)
	assert.Equal(t, "executed in 500ms, finished 3 minutes ago", got)
}

func TestComposeRunningLeavesTokens(t *testing.T) {
	f := NewFormatter(DefaultOptions())
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, DefaultTemplate, f.Compose(start, time.Time{}))
}

func TestComposeReplacesFirstTokenOnly(t *testing.T) {
	f := NewFormatter(Options{
		DisplayAbsoluteTimings: true,
		DisplayInUTC:           true,
		Template:               "${duration} / ${duration}",
	})
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2.00s / ${duration}", f.Compose(start, start.Add(2*time.Second)))
}

func TestNewFormatterDefaults(t *testing.T) {
	f := NewFormatter(Options{DisplayAbsoluteTimings: true, DisplayInUTC: true})
	end := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "10:00:00 2024-03-01", f.FormatEnd(end))
	assert.False(t, f.Relative())
}
