package enumchron

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize trims a description and collapses internal whitespace runs to a
// single space.
func Normalize(desc string) string {
	return strings.Join(strings.Fields(desc), " ")
}

// balancedParens reports whether every "(" in s is closed, in order.
func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// Season codes follow the MARC 21 holdings convention for chronology.
const (
	seasonSpring = 21
	seasonSummer = 22
	seasonAutumn = 23
	seasonWinter = 24
)

var monthCodes = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	"spr": seasonSpring, "sum": seasonSummer, "fal": seasonAutumn,
	"aut": seasonAutumn, "win": seasonWinter,
}

// monthCode maps a month or season word (any case, abbreviated or not, with
// or without a trailing period) to its chronology code. Zero means unknown.
func monthCode(word string) int {
	w := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(word), "."))
	if len(w) < 3 {
		return 0
	}
	return monthCodes[w[:3]]
}

// expandYear resolves the end of a year range. Two-digit ends take the start
// year's century and roll into the next century when they would otherwise
// precede the start ("1999/00" ends in 2000).
func expandYear(start int, end string) (int, error) {
	n, err := strconv.Atoi(end)
	if err != nil {
		return 0, err
	}
	if len(end) == 4 {
		return n, nil
	}
	y := start/100*100 + n
	if y < start {
		y += 100
	}
	return y, nil
}

func trimZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" && s != "" {
		return "0"
	}
	return t
}

func pad2(n int) string {
	return fmt.Sprintf("%02d", n)
}

func numberRange(from, to string) string {
	from = trimZeros(from)
	if to == "" {
		return from
	}
	to = trimZeros(to)
	if to == from {
		return from
	}
	return from + "-" + to
}
