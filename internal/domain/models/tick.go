package models

import (
	"strconv"
	"time"
)

// Tick is a single price observation for one market.
type Tick struct {
	Market  string  `json:"market"`
	Quote   float64 `json:"quote"`
	Epoch   int64   `json:"epoch"`
	PipSize int     `json:"pip_size"` // decimal places the venue quotes this market at
	Digit   int     `json:"digit"`    // last digit of the quote rendered at pip precision
}

func (t Tick) Time() time.Time { return time.Unix(t.Epoch, 0) }

// LastDigit derives the final digit of a quote rendered at pip precision.
// The venue settles digit contracts on the printed price, so the digit must
// come from the formatted string, not from float arithmetic.
func LastDigit(quote float64, pipSize int) int {
	if pipSize < 0 {
		pipSize = 0
	}
	s := strconv.FormatFloat(quote, 'f', pipSize, 64)
	return int(s[len(s)-1] - '0')
}

// DigitWindow is an immutable snapshot of the most recent digits for a
// market, oldest first.
type DigitWindow struct {
	Market string
	Digits []int
	AsOf   time.Time
}

func (w DigitWindow) Len() int { return len(w.Digits) }

// Tail returns the newest n digits, oldest first. If fewer are available it
// returns what there is.
func (w DigitWindow) Tail(n int) []int {
	if n >= len(w.Digits) {
		return w.Digits
	}
	return w.Digits[len(w.Digits)-n:]
}

// Latest returns the newest digit, or -1 on an empty window.
func (w DigitWindow) Latest() int {
	if len(w.Digits) == 0 {
		return -1
	}
	return w.Digits[len(w.Digits)-1]
}

// Counts tallies digit occurrences over the whole window.
func (w DigitWindow) Counts() [10]int {
	var c [10]int
	for _, d := range w.Digits {
		if d >= 0 && d <= 9 {
			c[d]++
		}
	}
	return c
}
