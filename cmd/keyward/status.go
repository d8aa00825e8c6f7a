// Copyright (c) 2026 Keyward Team
// Keyward - signing key custody and execution session manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/custody"
	"github.com/keyward/keyward/internal/i18n"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// statusCmd shows the current custody tier and execution session.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show custody tier and execution session status",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(renderStatus(current.mgr))
	},
}

// renderStatus builds the status panel from the manager's current view.
// Session expiry is evaluated at render time, so an expired session shows
// as inactive even before the next reconciliation.
func renderStatus(mgr *custody.Manager) string {
	st := mgr.State()
	info := mgr.TierInfo()
	sess := mgr.SessionStatus()

	var b strings.Builder
	b.WriteString(titleStyle.Render(i18n.T("status.title")))
	b.WriteString("\n\n")
	b.WriteString(i18n.T("status.tier", info.Label, info.SecurityLevel))
	b.WriteString("\n")

	if mgr.UnattendedAllowed() {
		b.WriteString(okStyle.Render(i18n.T("status.unattended_allowed")))
	} else {
		b.WriteString(i18n.T("status.unattended_forbidden"))
	}
	b.WriteString("\n")

	if sess.Active {
		b.WriteString(i18n.T("status.session_active", sess.ExpiresAt.Local().Format("2006-01-02 15:04"), sess.RemainingHours))
	} else {
		b.WriteString(i18n.T("status.session_none"))
	}
	b.WriteString("\n")

	b.WriteString(i18n.T("status.remote_keys", st.KeysInRemoteStore))
	b.WriteString("\n")
	b.WriteString(i18n.T("status.remote_password", st.PasswordStoredInRemoteStore))

	if err := mgr.LastPersistErr(); err != nil {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(i18n.T("status.persist_warning", err)))
	}

	return panelStyle.Render(b.String())
}
