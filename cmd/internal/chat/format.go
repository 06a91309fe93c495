package chat

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	msPerMinute = int64(60_000)
	msPerHour   = int64(3_600_000)
	msPerDay    = int64(86_400_000)
)

// Formatter renders message timestamps as short relative labels.
// The zero value formats absolute dates for en-US in the local time zone.
type Formatter struct {
	Locale   language.Tag
	Location *time.Location
}

// NewFormatter parses a BCP 47 locale ("en-US", "de", "ja-JP").
// Unparseable input falls back to en-US.
func NewFormatter(locale string) Formatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.AmericanEnglish
	}
	return Formatter{Locale: tag}
}

// Format formats ts relative to the current wall clock.
func (f Formatter) Format(ts time.Time) string {
	return f.FormatAt(ts, time.Now())
}

// FormatAt formats ts relative to now.
//
// All thresholds floor the elapsed milliseconds; timestamps in the future are "now".
func (f Formatter) FormatAt(ts, now time.Time) string {
	if ts.IsZero() {
		return "now"
	}

	diff := now.Sub(ts).Milliseconds()
	minutes := diff / msPerMinute
	hours := diff / msPerHour
	days := diff / msPerDay

	switch {
	case minutes < 1:
		return "now"
	case minutes < 60:
		return strconv.FormatInt(minutes, 10) + "m ago"
	case hours < 24:
		return strconv.FormatInt(hours, 10) + "h ago"
	case days < 7:
		return strconv.FormatInt(days, 10) + "d ago"
	}

	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return ts.In(loc).Format(f.dateLayout())
}

func (f Formatter) dateLayout() string {
	tag := f.Locale
	if tag == language.Und {
		tag = language.AmericanEnglish
	}
	region, _ := tag.Region()

	switch region.String() {
	case "US", "PH", "FM", "MH", "PW":
		return "1/2/2006"
	case "CA", "CN", "JP", "KR", "TW", "HU", "SE", "LT", "MN":
		return "2006-01-02"
	default:
		return "2/1/2006"
	}
}
