// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package availability

import (
	"fmt"
	"strconv"
	"strings"
)

// MinRecordFields is the shortest record ParseRecord accepts.
const MinRecordFields = 33

// Offer is one bookable train on the queried date. It is never
// modified after parsing.
type Offer struct {
	// Secret is the single-use booking capability, still URL-escaped
	// as the service sent it.
	Secret string

	TrainNo   string
	TrainCode string
	From      string
	To        string

	// FromName and ToName come from the reply's station map and may
	// be empty.
	FromName string
	ToName   string

	Departs  string
	Arrives  string
	Duration string

	StartTrainDate string
	FromStationNo  string
	ToStationNo    string

	// Index is the record's position in the reply.
	Index int

	seats [classCount]string
}

// ParseRecord parses one '|'-delimited result record.
func ParseRecord(record string, index int) (Offer, error) {
	fields := strings.Split(record, "|")
	if len(fields) < MinRecordFields {
		return Offer{}, fmt.Errorf("record %d has %d fields, want at least %d", index, len(fields), MinRecordFields)
	}
	offer := Offer{
		Secret:         fields[0],
		TrainNo:        fields[2],
		TrainCode:      fields[3],
		From:           fields[6],
		To:             fields[7],
		Departs:        fields[8],
		Arrives:        fields[9],
		Duration:       fields[10],
		StartTrainDate: fields[13],
		FromStationNo:  fields[16],
		ToStationNo:    fields[17],
		Index:          index,
	}
	for class, info := range classes {
		offer.seats[class] = fields[info.field]
	}
	return offer, nil
}

// Seat returns the raw availability indicator for class.
func (o Offer) Seat(class Class) string {
	if !class.valid() {
		return ""
	}
	return o.seats[class]
}

// Available reports whether class has seats on this offer.
func (o Offer) Available(class Class) bool {
	return HasAvailability(o.Seat(class))
}

// withStationNames returns a copy carrying display names.
func (o Offer) withStationNames(names map[string]string) Offer {
	o.FromName = names[o.From]
	o.ToName = names[o.To]
	return o
}

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(text string) (int, error) {
	hours, minutes, ok := strings.Cut(strings.TrimSpace(text), ":")
	if !ok {
		return 0, fmt.Errorf("clock time %q: want HH:MM", text)
	}
	h, err := strconv.Atoi(hours)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock time %q: bad hour", text)
	}
	m, err := strconv.Atoi(minutes)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q: bad minute", text)
	}
	return h*60 + m, nil
}
