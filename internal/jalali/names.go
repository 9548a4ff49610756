package jalali

import (
	"strings"
	"time"
	_ "time/tzdata" // source timezone must resolve on minimal images

	ptime "github.com/yaa110/go-persian-calendar"
)

// DefaultTimezone is the IANA zone of Persian-language sources.
const DefaultTimezone = "Asia/Tehran"

var letterFolds = strings.NewReplacer(
	"ي", "ی",
	"ى", "ی",
	"ك", "ک",
	"‌", "",
)

var digitFolds = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// Normalize folds Arabic letter variants to their Persian forms and
// Persian/Arabic-Indic digits to ASCII.
func Normalize(s string) string {
	return digitFolds.Replace(letterFolds.Replace(s))
}

var monthsByName = func() map[string]Month {
	names := make(map[string]Month, 12)
	for m := ptime.Farvardin; m <= ptime.Esfand; m++ {
		names[Normalize(m.String())] = m
	}
	return names
}()

// MonthByName looks up a month from its Persian name.
func MonthByName(name string) (Month, bool) {
	m, ok := monthsByName[Normalize(strings.TrimSpace(name))]
	return m, ok
}

// LoadLocation resolves name, falling back to a fixed +03:30 zone when the
// name is empty or unknown.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("IRST", 3*60*60+30*60)
	}
	return loc
}
