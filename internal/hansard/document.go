package hansard

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var frenchMonths = map[string]time.Month{
	"janvier": time.January, "février": time.February, "mars": time.March,
	"avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "août": time.August, "septembre": time.September,
	"octobre": time.October, "novembre": time.November, "décembre": time.December,
}

// SittingDate reads the sitting date from the first document that carries an
// ExtractedItem named "Date". English ("Monday, June 5, 2017") and French
// ("Le lundi 5 juin 2017") renderings are understood.
func SittingDate(docs ...*Node) (time.Time, error) {
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		info := doc.Find("ExtractedInformation")
		if info == nil {
			continue
		}
		for _, item := range info.Elements() {
			if item.Tag != "ExtractedItem" || item.Attr("Name") != "Date" {
				continue
			}
			return parseSittingDate(item.InnerText())
		}
	}
	return time.Time{}, eris.New("hansard: no sitting date in documents")
}

func parseSittingDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("Monday, January 2, 2006", s); err == nil {
		return t, nil
	}

	fields := strings.Fields(strings.ToLower(s))
	if len(fields) >= 3 {
		fields = fields[len(fields)-3:]
		day, dayErr := strconv.Atoi(strings.TrimSuffix(fields[0], "er"))
		month, ok := frenchMonths[fields[1]]
		year, yearErr := strconv.Atoi(fields[2])
		if dayErr == nil && yearErr == nil && ok {
			return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Errorf("hansard: unrecognized sitting date %q", s)
}
