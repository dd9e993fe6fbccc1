// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/jsonc"
)

var (
	repeatTokenPattern = regexp.MustCompile(`globalRepeatSubmitToken\s*=\s*'([0-9a-zA-Z]+)'`)
	pricePattern       = regexp.MustCompile(`[￥¥]\s*([0-9.]+)\s*元`)
)

const ticketInfoMarker = "var ticketInfoForPassengerForm="

// TicketInfo is the confirmation metadata the initDc page embeds. It
// is advisory: pricing and labels for logs, plus defaults for the
// queue and commit forms.
type TicketInfo struct {
	Request struct {
		TrainDate        string `json:"train_date"`
		TrainNo          string `json:"train_no"`
		StationTrainCode string `json:"station_train_code"`
		FromStation      string `json:"from_station"`
		ToStation        string `json:"to_station"`
	} `json:"queryLeftTicketRequestDTO"`
	LeftTicketStr    string `json:"leftTicketStr"`
	PurposeCodes     string `json:"purpose_codes"`
	TrainLocation    string `json:"train_location"`
	KeyCheckIsChange string `json:"key_check_isChange"`
	LeftDetails      []any  `json:"leftDetails"`

	// SelectedLabel is the text of the page's preselected seat
	// option, read from the HTML when present.
	SelectedLabel string `json:"-"`
}

// extractRepeatToken finds the repeat-submission token. There is no
// fallback: a page without the marker means the protocol changed.
func extractRepeatToken(page []byte) (string, bool) {
	match := repeatTokenPattern.FindSubmatch(page)
	if match == nil {
		return "", false
	}
	return string(match[1]), true
}

// parseTicketInfo reads the embedded ticketInfoForPassengerForm
// object, a JS literal with single-quoted strings on one line, and
// the preselected seat option. It returns nil when neither is found.
func parseTicketInfo(page []byte) (*TicketInfo, error) {
	var info *TicketInfo
	var parseErr error
	for line := range bytes.Lines(page) {
		_, literal, found := bytes.Cut(line, []byte(ticketInfoMarker))
		if !found {
			continue
		}
		literal = bytes.TrimSuffix(bytes.TrimSpace(literal), []byte(";"))
		converted := bytes.ReplaceAll(literal, []byte("'"), []byte(`"`))
		var decoded TicketInfo
		if err := json.Unmarshal(jsonc.ToJSON(converted), &decoded); err != nil {
			parseErr = fmt.Errorf("parsing ticketInfoForPassengerForm: %w", err)
		} else {
			info = &decoded
		}
		break
	}

	label := selectedSeatLabel(page)
	if label != "" {
		if info == nil {
			info = &TicketInfo{}
		}
		info.SelectedLabel = label
	}
	return info, parseErr
}

// selectedSeatLabel returns the text of the selected option of the
// first seat-type select on the page.
func selectedSeatLabel(page []byte) string {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(document.Find(`select[id^="seatType_"] option[selected]`).First().Text())
}

// SeatPrice returns the listed price for the seat labelled label, or
// "" when the page did not say.
func (t *TicketInfo) SeatPrice(label string) string {
	if t == nil {
		return ""
	}
	for _, detail := range t.LeftDetails {
		switch detail := detail.(type) {
		case string:
			// "二等座(553.50元)有票"
			if strings.Contains(detail, label) {
				if _, rest, ok := strings.Cut(detail, "("); ok {
					if price, _, ok := strings.Cut(rest, "元"); ok {
						return price
					}
				}
			}
		case map[string]any:
			name, _ := detail["seat_type_name"].(string)
			if !strings.Contains(name, label) {
				continue
			}
			switch price := detail["ticket_price"].(type) {
			case string:
				return price
			case float64:
				return fmt.Sprint(price)
			}
		}
	}
	if strings.Contains(t.SelectedLabel, label) {
		if match := pricePattern.FindStringSubmatch(t.SelectedLabel); match != nil {
			return match[1]
		}
	}
	return ""
}
