// Package exectime turns start/end stamps of a cell execution into the short
// human readable summary shown next to the cell, and decides whether a newly
// observed completion is more recent than the last one signalled.
package exectime

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

// HumanizeDuration renders a millisecond duration as e.g. "850ms", "1.23s",
// "12.5s", "1m 30.5s", "2h 5m 12s" or "3d 4h 0m".
//
// Seconds are dropped once the duration reaches a day. They are printed with
// no decimals when hours are present or minutes exceed one, one decimal above
// ten seconds and two otherwise.
func HumanizeDuration(ms float64) string {
	if ms < msPerSecond {
		return strconv.FormatFloat(math.Floor(ms+0.5), 'f', 0, 64) + "ms"
	}

	var b strings.Builder

	days := math.Floor(ms / msPerDay)
	if days != 0 {
		b.WriteString(strconv.FormatFloat(days, 'f', 0, 64) + "d ")
	}
	ms = math.Mod(ms, msPerDay)

	hours := math.Floor(ms / msPerHour)
	if days != 0 || hours != 0 {
		b.WriteString(strconv.FormatFloat(hours, 'f', 0, 64) + "h ")
	}
	ms = math.Mod(ms, msPerHour)

	mins := math.Floor(ms / msPerMinute)
	if days != 0 || hours != 0 || mins != 0 {
		b.WriteString(strconv.FormatFloat(mins, 'f', 0, 64) + "m")
	}
	ms = math.Mod(ms, msPerMinute)

	if days == 0 {
		secs := ms / msPerSecond
		decimals := 2
		switch {
		case hours != 0 || mins > 1:
			decimals = 0
		case secs > 10:
			decimals = 1
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(toFixed(secs, decimals) + "s")
	}

	return b.String()
}

// toFixed formats a non-negative x with the given number of decimals,
// rounding exact halves up. strconv rounds halves to even on the binary
// value, which would print 1.125 as "1.12".
func toFixed(x float64, decimals int) string {
	const prec = 256
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	v := new(big.Float).SetPrec(prec).SetFloat64(x)
	v.Mul(v, new(big.Float).SetPrec(prec).SetInt(scale))
	v.Add(v, big.NewFloat(0.5))
	n, _ := v.Int(nil)

	s := n.String()
	if decimals == 0 {
		return s
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	return s[:len(s)-decimals] + "." + s[len(s)-decimals:]
}
