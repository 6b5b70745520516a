package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
)

// Listing colours, from the VS Code dark palette.
const (
	colorAddress  = "#858585"
	colorFunction = "#DCDCAA"
	colorKind     = "#569CD6"
	colorLink     = "#4FC1FF"
	colorData     = "#CE9178"
	colorWarning  = "#F44747"
)

// Listing holds the column styles of `harden disasm`.
type Listing struct {
	Address  lipgloss.Style
	Function lipgloss.Style
	Kind     lipgloss.Style
	Link     lipgloss.Style
	Data     lipgloss.Style
	Warning  lipgloss.Style
}

// NewListing returns the listing styles. Plain returns unstyled columns
// for pipes and NO_COLOR.
func NewListing(plain bool) Listing {
	if plain {
		s := lipgloss.NewStyle()
		return Listing{s, s, s, s, s, s}
	}
	return Listing{
		Address:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorAddress)),
		Function: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorFunction)),
		Kind:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorKind)),
		Link:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorLink)),
		Data:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorData)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarning)),
	}
}
