package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/urforce/pkg/robot"
	"github.com/gwillem/urforce/pkg/session"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableKeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// keyValueTable renders rows of (name, value) pairs.
func keyValueTable(rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Setting", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == 0:
				return tableKeyStyle
			default:
				return tableCellStyle
			}
		}).
		Render()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func configRows(cfg *robot.Config) [][]string {
	duration := "until interrupted"
	if cfg.Duration > 0 {
		duration = cfg.Duration.Std().String()
	}
	gain := "default"
	if cfg.ForceMode.GainScaling != nil {
		gain = fmt.Sprintf("%g", *cfg.ForceMode.GainScaling)
	}
	return [][]string{
		{"Address", cfg.Address},
		{"Duration", duration},
		{"Calibration checksum", cfg.CalibrationChecksum},
		{"Calibration file", cfg.CalibrationFile},
		{"Power off / on", onOff(cfg.Handshake.PowerOff) + " / " + onOff(cfg.Handshake.PowerOn)},
		{"Brake release", onOff(cfg.Handshake.BrakeRelease)},
		{"Program wait", fmt.Sprintf("%s x %d", cfg.Handshake.WaitTimeout.Std(), cfg.Handshake.WaitAttempts)},
		{"Keepalive interval", cfg.KeepaliveInterval.Std().String()},
		{"Compliant axes", strings.Join(axisNames(cfg.ForceMode.Selection.CompliantAxes()), ", ")},
		{"Frame mode", cfg.ForceMode.FrameMode.String()},
		{"Damping", fmt.Sprintf("%g", cfg.ForceMode.Damping)},
		{"Gain scaling", gain},
	}
}

func axisNames(axes []robot.Axis) []string {
	names := make([]string, len(axes))
	for i, a := range axes {
		names[i] = string(a)
	}
	return names
}

// renderSummary describes how a session ended.
func renderSummary(st session.Status, err error) string {
	result := successStyle.Render("finished")
	if err != nil {
		result = errStyle.Render(err.Error())
	}
	return keyValueTable([][]string{
		{"Session", st.SessionID},
		{"Result", result},
		{"Keepalives", fmt.Sprint(st.Keepalives)},
		{"Elapsed", st.Elapsed.String()},
		{"Max period", st.MaxPeriod.String()},
		{"Missed ticks", fmt.Sprint(st.Missed)},
	})
}
