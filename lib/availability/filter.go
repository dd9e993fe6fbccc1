// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package availability

// ByDepartureWindow keeps offers departing within [start, end], both
// "HH:MM" and both inclusive. Offers with an unreadable departure time
// are dropped.
func ByDepartureWindow(offers []Offer, start, end string) ([]Offer, error) {
	from, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	until, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	var kept []Offer
	for _, offer := range offers {
		departs, err := ParseClock(offer.Departs)
		if err != nil {
			continue
		}
		if from <= departs && departs <= until {
			kept = append(kept, offer)
		}
	}
	return kept, nil
}

// ByInventoryClass keeps offers with availability in at least one of
// allowed.
func ByInventoryClass(offers []Offer, allowed []Class) []Offer {
	var kept []Offer
	for _, offer := range offers {
		if _, ok := firstAvailable(offer, allowed); ok {
			kept = append(kept, offer)
		}
	}
	return kept
}

// Select picks the first offer, in the order given, with availability
// in one of preferred, and the first preferred class available on it.
func Select(offers []Offer, preferred []Class) (Offer, Class, bool) {
	for _, offer := range offers {
		if class, ok := firstAvailable(offer, preferred); ok {
			return offer, class, true
		}
	}
	return Offer{}, 0, false
}

func firstAvailable(offer Offer, preferred []Class) (Class, bool) {
	for _, class := range preferred {
		if offer.Available(class) {
			return class, true
		}
	}
	return 0, false
}
