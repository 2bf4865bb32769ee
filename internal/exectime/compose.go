package exectime

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
)

// Template tokens.
const (
	TokenDuration = "${duration}"
	TokenEndTime  = "${end_time}"
)

// Defaults match the options shipped with the notebook extension.
const (
	DefaultTemplate       = "executed in " + TokenDuration + ", finished " + TokenEndTime
	DefaultAbsoluteFormat = "%H:%M:%S %Y-%m-%d"
)

// Options controls how Compose renders the finish time.
type Options struct {
	// DisplayAbsoluteTimings selects a formatted wall clock end time; when
	// false the end time is shown relative to Now ("3 minutes ago").
	DisplayAbsoluteTimings bool
	// DisplayAbsoluteFormat is a strftime pattern.
	DisplayAbsoluteFormat string
	DisplayInUTC          bool
	Template              string

	// Location is used for absolute times when DisplayInUTC is off
	// (default time.Local).
	Location *time.Location
	// Now is the reference for relative times (default time.Now).
	Now func() time.Time
}

// DefaultOptions returns the stock options.
func DefaultOptions() Options {
	return Options{
		DisplayAbsoluteTimings: true,
		DisplayAbsoluteFormat:  DefaultAbsoluteFormat,
		Template:               DefaultTemplate,
	}
}

// Formatter composes execution-time messages from a template.
type Formatter struct {
	opts Options
}

// NewFormatter fills unset options with defaults.
func NewFormatter(opts Options) *Formatter {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.DisplayAbsoluteFormat == "" {
		opts.DisplayAbsoluteFormat = DefaultAbsoluteFormat
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Formatter{opts: opts}
}

// Relative reports whether end times are rendered relative to now. Relative
// messages go stale and need periodic recomposition.
func (f *Formatter) Relative() bool { return !f.opts.DisplayAbsoluteTimings }

// Compose substitutes the end time and duration tokens. With a zero end the
// template is returned untouched, which reads as "still running".
func (f *Formatter) Compose(start, end time.Time) string {
	msg := f.opts.Template
	if end.IsZero() {
		return msg
	}
	msg = strings.Replace(msg, TokenEndTime, f.FormatEnd(end), 1)
	elapsed := float64(end.Sub(start)) / float64(time.Millisecond)
	msg = strings.Replace(msg, TokenDuration, HumanizeDuration(elapsed), 1)
	return msg
}

// FormatEnd renders a finish time per the display options.
func (f *Formatter) FormatEnd(end time.Time) string {
	if f.opts.DisplayInUTC {
		end = end.UTC()
	} else {
		end = end.In(f.opts.Location)
	}
	if f.opts.DisplayAbsoluteTimings {
		return strftime.Format(f.opts.DisplayAbsoluteFormat, end)
	}
	return humanize.RelTime(end, f.opts.Now(), "ago", "from now")
}
