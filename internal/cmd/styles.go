package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func printOK(format string, args ...any) {
	fmt.Printf("%s %s\n", okStyle.Render("OK  "), fmt.Sprintf(format, args...))
}

func printWarn(format string, args ...any) {
	fmt.Printf("%s %s\n", warnStyle.Render("WARN"), fmt.Sprintf(format, args...))
}

func printFail(format string, args ...any) {
	fmt.Printf("%s %s\n", failStyle.Render("FAIL"), fmt.Sprintf(format, args...))
}
