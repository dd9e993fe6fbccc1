// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package availability

import (
	"fmt"
	"strings"
)

// Class is an inventory (seat) class.
type Class int

const (
	Business Class = iota
	First
	Second
	SoftSleep
	HardSleep
	HardSeat
	NoSeat

	classCount = iota
)

type classInfo struct {
	name  string
	code  string
	label string
	field int
}

// classes is indexed by Class. field is the record position of the
// class's availability indicator.
var classes = [classCount]classInfo{
	Business:  {"business", "9", "商务座", 32},
	First:     {"first", "M", "一等座", 31},
	Second:    {"second", "O", "二等座", 30},
	SoftSleep: {"soft_sleep", "4", "软卧", 27},
	HardSleep: {"hard_sleep", "3", "硬卧", 28},
	HardSeat:  {"hard_seat", "1", "硬座", 29},
	NoSeat:    {"no_seat", "WZ", "无座", 26},
}

// AllClasses lists every class in display order.
func AllClasses() []Class {
	return []Class{Business, First, Second, SoftSleep, HardSleep, HardSeat, NoSeat}
}

func (c Class) valid() bool { return c >= 0 && int(c) < classCount }

// String returns the configuration name, e.g. "second".
func (c Class) String() string {
	if !c.valid() {
		return fmt.Sprintf("class(%d)", int(c))
	}
	return classes[c].name
}

// SeatCode is the code order calls use for the class.
func (c Class) SeatCode() string {
	if !c.valid() {
		return ""
	}
	return classes[c].code
}

// Label is the service's display name for the class.
func (c Class) Label() string {
	if !c.valid() {
		return ""
	}
	return classes[c].label
}

// ParseClass accepts a configuration name, a display label, or a seat
// code.
func ParseClass(text string) (Class, error) {
	text = strings.TrimSpace(text)
	for index, info := range classes {
		if strings.EqualFold(text, info.name) || text == info.label || text == info.code {
			return Class(index), nil
		}
	}
	return 0, fmt.Errorf("unknown seat class %q", text)
}

// ParseClasses parses a preference list, rejecting duplicates.
func ParseClasses(names []string) ([]Class, error) {
	parsed := make([]Class, 0, len(names))
	seen := make(map[Class]bool)
	for _, name := range names {
		class, err := ParseClass(name)
		if err != nil {
			return nil, err
		}
		if seen[class] {
			return nil, fmt.Errorf("seat class %q listed twice", name)
		}
		seen[class] = true
		parsed = append(parsed, class)
	}
	return parsed, nil
}

// HasAvailability interprets an availability indicator in the
// service's vocabulary. Empty, "--", "无", "0" and "000" mean none;
// anything else ("有", "候补", a count) means some.
func HasAvailability(indicator string) bool {
	switch strings.TrimSpace(indicator) {
	case "", "--", "无", "0", "000":
		return false
	}
	return true
}
