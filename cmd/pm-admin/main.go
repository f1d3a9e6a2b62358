package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/admin/ui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	mailbox := flag.String("mailbox", "", "open this member's mailbox directly")
	flag.Parse()

	a, cleanup, err := app.New(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	// The alternate screen owns stdout; migrations, purges and mail
	// failures are logged to the data directory instead.
	logFile, err := tea.LogToFile(filepath.Join(a.Config.Paths.Data, "pm-admin.log"), "")
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()
	log.Printf("pm-admin: started with %s (database %s)", a.ConfigPath, a.DBPath)

	p := tea.NewProgram(ui.NewRootModel(a, ui.Options{Mailbox: *mailbox}), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
