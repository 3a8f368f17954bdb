package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

var (
	primary = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	failure = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary)
	stateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB")).Background(primary).Padding(0, 1).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Foreground(failure).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(0, 2)
)

func banner(room domain.RoomID, server string) string {
	return boxStyle.Render(fmt.Sprintf("%s\n%s %s\n%s %s",
		titleStyle.Render("medsignal peer"),
		mutedStyle.Render("room  "), room,
		mutedStyle.Render("server"), server))
}

func render(ev domain.SessionEvent) string {
	switch ev.Kind {
	case domain.SessionStateChanged:
		line := stateStyle.Render(ev.State.String())
		if ev.Role != "" {
			line += " " + mutedStyle.Render("as "+string(ev.Role))
		}
		if ev.Peer != "" {
			line += " " + mutedStyle.Render("peer "+ev.Peer.String())
		}
		if ev.State == domain.StateJoining && ev.Peer == "" {
			line += " " + warningStyle.Render("waiting for peer")
		}
		return line
	case domain.SessionEstablished:
		return successStyle.Render("✓ connected to " + ev.Peer.String())
	case domain.SessionRemoteTrack:
		return fmt.Sprintf("%s %s %s", successStyle.Render("▶"), string(ev.Track.Kind), mutedStyle.Render(ev.Track.Codec))
	case domain.SessionError:
		return errorStyle.Render("✗ " + ev.Err.Error())
	}
	return mutedStyle.Render(string(ev.Kind))
}
