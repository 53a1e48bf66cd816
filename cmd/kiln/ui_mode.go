package main

import (
	"fmt"
	"strings"
)

// progressMode selects whether kiln build renders the live progress view.
type progressMode string

const (
	progressAuto progressMode = "auto"
	progressOn   progressMode = "on"
	progressOff  progressMode = "off"
)

// parseProgressMode reads --ui. The view redraws the terminal in place, so
// it cannot be forced on together with echoed toolchain commands.
func parseProgressMode(value string, printCommands bool) (progressMode, error) {
	var mode progressMode
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		mode = progressAuto
	case "on":
		mode = progressOn
	case "off":
		mode = progressOff
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
	if mode == progressOn && printCommands {
		return "", fmt.Errorf("--ui=on cannot be combined with --print-commands")
	}
	return mode, nil
}

// useProgressView reports whether the build should render through the
// progress view. --quiet and --print-commands always keep plain output;
// auto additionally requires stdout to be a terminal.
func useProgressView(s buildSettings, quiet, stdoutTTY bool) bool {
	if quiet || s.printCommands {
		return false
	}
	switch s.ui {
	case progressOn:
		return true
	case progressAuto:
		return stdoutTTY
	default:
		return false
	}
}
