package pkg

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// GenerateRandomBytes returns securely generated random bytes.
// It will return an error if the system's secure random
// number generator fails to function correctly, in which
// case the caller should not continue.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateRandomString returns a URL-safe, base64 encoded
// securely generated random string.
func GenerateRandomString(s int) (string, error) {
	b, err := GenerateRandomBytes(s)
	return base64.URLEncoding.EncodeToString(b), err
}

// DayOf truncates a timestamp to its calendar date in UTC. All daily
// summaries and the workout step log are keyed by such dates.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// KilogramsToPounds converts provider metric weights to the pounds
// stored on the athlete and weight tables.
func KilogramsToPounds(kg float64) float64 {
	return kg * 2.20462262185
}
