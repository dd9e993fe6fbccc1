// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package offerview renders offers, travelers, outcomes and JSON
// documents for the terminal.
package offerview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/ledger"
	"github.com/railclerk/railclerk/lib/order"
)

// maxCellWidth bounds station and train cells so a wide table still
// fits an 80-column terminal.
const maxCellWidth = 14

// Renderer styles output for one destination. The zero value is not
// usable; call New.
type Renderer struct {
	lip   *lipgloss.Renderer
	color bool

	header    lipgloss.Style
	cell      lipgloss.Style
	available lipgloss.Style
	soldOut   lipgloss.Style
	success   lipgloss.Style
	failure   lipgloss.Style
	warning   lipgloss.Style
	faint     lipgloss.Style
}

// New returns a Renderer writing for w. With color false every style
// is plain text, which is what pipes and tests get.
func New(w io.Writer, color bool) *Renderer {
	profile := termenv.Ascii
	if color {
		profile = termenv.ANSI256
	}
	// The profile is set explicitly so output does not depend on
	// detecting a terminal on w.
	lip := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	lip.SetColorProfile(profile)

	r := &Renderer{lip: lip, color: color}
	r.header = lip.NewStyle().Bold(true).Padding(0, 1)
	r.cell = lip.NewStyle().Padding(0, 1)
	r.available = r.cell.Foreground(lipgloss.Color("42"))
	r.soldOut = r.cell.Foreground(lipgloss.Color("241"))
	r.success = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	r.failure = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	r.warning = lip.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	r.faint = lip.NewStyle().Foreground(lipgloss.Color("241"))
	return r
}

// Offers renders one row per offer with a seat column per class.
func (r *Renderer) Offers(offers []availability.Offer, classes []availability.Class) string {
	if len(offers) == 0 {
		return r.faint.Render("no trains")
	}
	if len(classes) == 0 {
		classes = availability.AllClasses()
	}

	headers := []string{"#", "Train", "From", "To", "Departs", "Arrives", "Duration"}
	for _, class := range classes {
		headers = append(headers, class.Label())
	}
	const fixedColumns = 7

	rows := make([][]string, 0, len(offers))
	for _, offer := range offers {
		row := []string{
			strconv.Itoa(offer.Index + 1),
			truncate(offer.TrainCode),
			truncate(firstNonEmpty(offer.FromName, offer.From)),
			truncate(firstNonEmpty(offer.ToName, offer.To)),
			offer.Departs,
			offer.Arrives,
			offer.Duration,
		}
		for _, class := range classes {
			row = append(row, seatText(offer.Seat(class)))
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.faint).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.header
			}
			if col < fixedColumns || row < 0 || row >= len(offers) {
				return r.cell
			}
			if offers[row].Available(classes[col-fixedColumns]) {
				return r.available
			}
			return r.soldOut
		})
	return t.String()
}

// Travelers renders the account's travelers with identity numbers
// and phone numbers masked.
func (r *Renderer) Travelers(travelers []order.Traveler) string {
	if len(travelers) == 0 {
		return r.faint.Render("no travelers")
	}
	rows := make([][]string, 0, len(travelers))
	for _, traveler := range travelers {
		rows = append(rows, []string{
			truncate(traveler.Name),
			firstNonEmpty(traveler.TypeName, traveler.TypeCode),
			firstNonEmpty(traveler.IDTypeName, traveler.IDTypeCode),
			Mask(traveler.IDNumber),
			Mask(traveler.Phone),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.faint).
		Headers("Name", "Type", "ID type", "ID", "Phone").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.header
			}
			return r.cell
		})
	return t.String()
}

// Attempts renders ledger rows, newest first as given. The result
// column holds the order id when one was returned, else the failure
// code.
func (r *Renderer) Attempts(attempts []ledger.Attempt) string {
	if len(attempts) == 0 {
		return r.faint.Render("no booking attempts recorded")
	}
	const outcomeColumn = 6
	rows := make([][]string, 0, len(attempts))
	for _, attempt := range attempts {
		rows = append(rows, []string{
			attempt.Started.Format("2006-01-02 15:04:05"),
			attempt.ID,
			truncate(attempt.Train),
			attempt.SeatClass,
			truncate(attempt.Traveler),
			attempt.Stage,
			attempt.Outcome,
			firstNonEmpty(attempt.OrderID, attempt.Code),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.faint).
		Headers("Started", "Attempt", "Train", "Class", "Traveler", "Stage", "Outcome", "Result").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.header
			}
			if col != outcomeColumn || row < 0 || row >= len(attempts) {
				return r.cell
			}
			switch attempts[row].Outcome {
			case "committed":
				return r.available
			case "unknown":
				return r.cell.Foreground(lipgloss.Color("214"))
			case "failed":
				return r.cell.Foreground(lipgloss.Color("203"))
			}
			return r.cell
		})
	return t.String()
}

// Outcome renders the result of a booking run. An unknown outcome
// always carries the instruction to check the account.
func (r *Renderer) Outcome(outcome order.Outcome) string {
	switch {
	case outcome.Committed && outcome.OrderID != "":
		return r.success.Render("✔ order committed") + " " + outcome.OrderID + "\n" +
			r.faint.Render("pay for it in the 12306 app before the payment window closes")
	case outcome.Committed:
		return r.success.Render("✔ order committed") + "\n" +
			r.warning.Render("the service returned no order id; check your account for the order")
	case outcome.Code == order.CodeDryRun:
		return r.success.Render("✔ dry run complete") + " " +
			r.faint.Render("stopped before the commit; no order was created")
	case outcome.Unknown:
		return r.warning.Render(fmt.Sprintf("? order state unknown after %s", outcome.Stage)) + "\n" +
			"the commit request was sent but its reply was lost; check your account before booking again"
	default:
		line := r.failure.Render(fmt.Sprintf("✘ failed at %s", outcome.Stage))
		if outcome.Code != "" {
			line += " " + r.faint.Render("["+outcome.Code+"]")
		}
		if outcome.Message != "" {
			line += "\n" + outcome.Message
		}
		return line + "\n" + r.faint.Render("no order was created")
	}
}

// JSON pretty-prints data and, when color is on, highlights it.
// Input that is not JSON is returned unchanged.
func (r *Renderer) JSON(data []byte) string {
	var indented bytes.Buffer
	if err := json.Indent(&indented, bytes.TrimSpace(data), "", "  "); err != nil {
		return string(data)
	}
	if !r.color {
		return indented.String()
	}
	var highlighted strings.Builder
	if err := quick.Highlight(&highlighted, indented.String(), "json", "terminal256", "monokai"); err != nil {
		return indented.String()
	}
	return highlighted.String()
}

// Mask keeps the first and last few characters of a personal
// identifier.
func Mask(value string) string {
	runes := []rune(value)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) <= 4:
		return strings.Repeat("*", len(runes))
	case len(runes) <= 8:
		return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
	default:
		return string(runes[:4]) + strings.Repeat("*", len(runes)-8) + string(runes[len(runes)-4:])
	}
}

func seatText(indicator string) string {
	if indicator == "" {
		return "--"
	}
	return indicator
}

func truncate(text string) string {
	return ansi.Truncate(text, maxCellWidth, "…")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
