// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/railclerk/railclerk/lib/auth"
)

// qrProgress shows a one-line live view of a QR login on a terminal.
type qrProgress struct {
	program *tea.Program
	done    chan struct{}
}

type qrChallengeMsg struct {
	path      string
	challenge int
}

type qrStatusMsg auth.QRStatus

type qrDoneMsg struct{ err error }

func startQRProgress(ctx context.Context, out io.Writer) *qrProgress {
	progress := &qrProgress{
		program: tea.NewProgram(newQRModel(), tea.WithContext(ctx), tea.WithOutput(out), tea.WithInput(nil)),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(progress.done)
		progress.program.Run()
	}()
	return progress
}

func (p *qrProgress) challenge(path string, challenge int) {
	p.program.Send(qrChallengeMsg{path: path, challenge: challenge})
}

func (p *qrProgress) status(status auth.QRStatus) {
	p.program.Send(qrStatusMsg(status))
}

// finish ends the view and waits for the terminal to be restored.
func (p *qrProgress) finish(err error) {
	p.program.Send(qrDoneMsg{err: err})
	<-p.done
}

type qrModel struct {
	spinner   spinner.Model
	path      string
	challenge int
	status    auth.QRStatus
	done      bool
	err       error

	faint   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
}

func newQRModel() qrModel {
	return qrModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		faint:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

func (m qrModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m qrModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case qrChallengeMsg:
		m.path, m.challenge = msg.path, msg.challenge
		m.status = auth.QRPending
		return m, nil
	case qrStatusMsg:
		m.status = auth.QRStatus(msg)
		return m, nil
	case qrDoneMsg:
		m.done, m.err = true, msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m qrModel) View() string {
	switch {
	case m.done && m.err != nil:
		return m.failure.Render("✘ login failed") + "\n"
	case m.done:
		return m.success.Render("✔ logged in") + "\n"
	case m.challenge == 0:
		return m.spinner.View() + " requesting a QR code\n"
	}
	line := fmt.Sprintf("%s %s", m.spinner.View(), statusText(m.status))
	hint := fmt.Sprintf("scan %s with the 12306 app (code %d)", m.path, m.challenge)
	return line + "\n" + m.faint.Render(hint) + "\n"
}

func statusText(status auth.QRStatus) string {
	switch status {
	case auth.QRPending:
		return "waiting for the code to be scanned"
	case auth.QRScanned:
		return "scanned; confirm the login on your phone"
	case auth.QRConfirmed:
		return "confirmed; finishing login"
	case auth.QRExpired:
		return "code expired; fetching a new one"
	default:
		return "the service reported an error"
	}
}
