package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Sitting is one day's (or part-day's) meeting of the House.
type Sitting struct {
	ID         string    `json:"id"`
	Parliament int       `json:"parliament"`
	Session    int       `json:"session"`
	Number     string    `json:"number"`
	Date       time.Time `json:"date"`
}

// ParseSittingID parses ids of the form "<parliament>-<session>-<number>",
// e.g. "42-1-76" or "38-1-124a".
func ParseSittingID(id string) (Sitting, error) {
	parts := strings.Split(strings.TrimSpace(id), "-")
	if len(parts) != 3 || parts[2] == "" {
		return Sitting{}, eris.Errorf("model: malformed sitting id %q", id)
	}
	parliament, err := strconv.Atoi(parts[0])
	if err != nil {
		return Sitting{}, eris.Wrapf(err, "model: sitting %q parliament", id)
	}
	session, err := strconv.Atoi(parts[1])
	if err != nil {
		return Sitting{}, eris.Wrapf(err, "model: sitting %q session", id)
	}
	number := strings.ToLower(parts[2])
	return Sitting{
		ID:         fmt.Sprintf("%d-%d-%s", parliament, session, number),
		Parliament: parliament,
		Session:    session,
		Number:     number,
	}, nil
}

// VoteRef returns the key of a division vote held during this sitting's session.
func (s Sitting) VoteRef(division string) string {
	division = strings.TrimSpace(division)
	if division == "" {
		return ""
	}
	return fmt.Sprintf("%d-%d-%s", s.Parliament, s.Session, division)
}
