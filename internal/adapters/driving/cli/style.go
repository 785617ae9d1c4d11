package cli

import (
	"github.com/fatih/color"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

var (
	okStyle   = color.New(color.FgGreen)
	warnStyle = color.New(color.FgYellow)
	failStyle = color.New(color.FgRed, color.Bold)
	infoStyle = color.New(color.FgCyan)
	dimStyle  = color.New(color.Faint)
)

// statusLabel colours a sync outcome.
func statusLabel(s domain.SyncStatus) string {
	switch s {
	case domain.SyncSuccess:
		return okStyle.Sprint(s)
	case domain.SyncPartial:
		return warnStyle.Sprint(s)
	default:
		return failStyle.Sprint(s)
	}
}

// stateLabel colours a source's live state.
func stateLabel(s domain.SourceState) string {
	switch s {
	case domain.StateIdle:
		return dimStyle.Sprint(s)
	case domain.StateBackoff:
		return warnStyle.Sprint(s)
	default:
		return infoStyle.Sprint(s)
	}
}
