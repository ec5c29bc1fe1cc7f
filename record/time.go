package record

import "fmt"

// Time is a bag timestamp with separate second and nanosecond counters.
type Time struct {
	Sec  uint32
	Nsec uint32
}

func NewTime(sec, nsec uint32) Time {
	return Time{Sec: sec, Nsec: nsec}
}

func (t Time) Before(u Time) bool {
	if t.Sec != u.Sec {
		return t.Sec < u.Sec
	}
	return t.Nsec < u.Nsec
}

func (t Time) After(u Time) bool {
	return u.Before(t)
}

func (t Time) Equal(u Time) bool {
	return t.Sec == u.Sec && t.Nsec == u.Nsec
}

func (t Time) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}

// Pack encodes the timestamp into the packed u64 header representation:
// seconds in the low word, nanoseconds in the high word.
func (t Time) Pack() uint64 {
	return uint64(t.Nsec)<<32 + uint64(t.Sec)
}

// UnpackTime decodes a packed header timestamp. The seconds are masked to
// the low 33 bits to tolerate the historical packing, which added instead
// of or-ing the two words.
func UnpackTime(packed uint64) Time {
	const bitmask = 1<<33 - 1
	return Time{
		Sec:  uint32(packed & bitmask),
		Nsec: uint32(packed >> 32),
	}
}
