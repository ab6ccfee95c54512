package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timestamp is a point in time persisted as fractional Unix seconds,
// the representation job records use for submit/start/end times.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// Seconds returns the Unix time in seconds with sub-second precision.
func (t Timestamp) Seconds() float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds converts fractional Unix seconds back to a Timestamp.
func FromSeconds(sec float64) Timestamp {
	whole, frac := math.Modf(sec)
	return Timestamp{Time: time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()}
}

// MarshalJSON encodes the timestamp as a JSON number.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Seconds())
}

// UnmarshalJSON accepts a JSON number of seconds or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var sec float64
	if err := json.Unmarshal(data, &sec); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = FromSeconds(sec)
	return nil
}
