package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vkm-dev/vkm/internal/tui"
)

func runInteractive() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.host.Collect(context.Background(), a.cfg.General.BuildDir)
	if err != nil {
		return fmt.Errorf("collect system info: %w", err)
	}

	program := tea.NewProgram(tui.New(a.kernels(), info), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
