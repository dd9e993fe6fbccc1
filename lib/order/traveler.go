// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/railclerk/railclerk/lib/availability"
)

// Traveler is a passenger bound to the account.
type Traveler struct {
	ID         string `json:"passenger_uuid"`
	Name       string `json:"passenger_name"`
	IDTypeCode string `json:"passenger_id_type_code"`
	IDTypeName string `json:"passenger_id_type_name"`
	IDNumber   string `json:"passenger_id_no"`
	Phone      string `json:"mobile_no"`
	TypeCode   string `json:"passenger_type"`
	TypeName   string `json:"passenger_type_name"`
	AllEncStr  string `json:"allEncStr"`
	IsUserSelf string `json:"isUserSelf"`
}

// ticketTypeAdult is the ticket type code for an adult ticket.
const ticketTypeAdult = "1"

// PassengerTicketStr is the traveler-ticket descriptor checkOrderInfo
// and confirmSingleForQueue expect:
// seat code, 0, ticket type, name, id type, id number, phone, N.
func PassengerTicketStr(class availability.Class, traveler Traveler) string {
	return strings.Join([]string{
		class.SeatCode(),
		"0",
		ticketTypeAdult,
		traveler.Name,
		traveler.IDTypeCode,
		traveler.IDNumber,
		traveler.Phone,
		"N",
	}, ",")
}

// OldPassengerStr is the prior-traveler descriptor:
// name, id type, id number, traveler type, then a trailing "_".
func OldPassengerStr(traveler Traveler) string {
	typeCode := traveler.TypeCode
	if typeCode == "" {
		typeCode = "1"
	}
	return strings.Join([]string{traveler.Name, traveler.IDTypeCode, traveler.IDNumber, typeCode}, ",") + "_"
}

// FindTraveler selects the traveler whose name equals name exactly.
func FindTraveler(travelers []Traveler, name string) (Traveler, error) {
	for _, traveler := range travelers {
		if traveler.Name == name {
			return traveler, nil
		}
	}
	return Traveler{}, &TravelerNotFoundError{
		Name:        name,
		Suggestions: SuggestTravelers(travelers, name, 3),
		Available:   len(travelers),
	}
}

// TravelerNotFoundError reports a traveler name with no exact match.
type TravelerNotFoundError struct {
	Name        string
	Suggestions []string
	Available   int
}

func (e *TravelerNotFoundError) Error() string {
	message := fmt.Sprintf("traveler %q not among the account's %d travelers", e.Name, e.Available)
	if len(e.Suggestions) > 0 {
		message += fmt.Sprintf("; closest: %s", strings.Join(e.Suggestions, ", "))
	}
	return message
}

// SuggestTravelers ranks traveler names by fuzzy similarity to name
// and returns up to limit of them. Selection never uses this; it only
// helps the operator fix a typo.
func SuggestTravelers(travelers []Traveler, name string, limit int) []string {
	pattern := []rune(strings.Map(unicode.ToLower, strings.TrimSpace(name)))
	if len(pattern) == 0 {
		return nil
	}
	slab := util.MakeSlab(100*1024, 2048)

	type scored struct {
		name  string
		score int
	}
	var matches []scored
	for _, traveler := range travelers {
		for _, candidate := range suggestionPatterns(pattern) {
			chars := util.RunesToChars([]rune(traveler.Name))
			result, _ := algo.FuzzyMatchV2(false, true, true, &chars, candidate, false, slab)
			if result.Start >= 0 && result.Score > 0 {
				matches = append(matches, scored{traveler.Name, result.Score})
				break
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	var names []string
	for _, match := range matches {
		if len(names) == limit {
			break
		}
		names = append(names, match.name)
	}
	return names
}

// suggestionPatterns yields the full pattern, then the pattern with
// one rune dropped at each position, so a single mistyped character
// in a short name still finds it.
func suggestionPatterns(pattern []rune) [][]rune {
	patterns := [][]rune{pattern}
	if len(pattern) < 2 {
		return patterns
	}
	for skip := range pattern {
		shorter := make([]rune, 0, len(pattern)-1)
		shorter = append(shorter, pattern[:skip]...)
		shorter = append(shorter, pattern[skip+1:]...)
		patterns = append(patterns, shorter)
	}
	return patterns
}
