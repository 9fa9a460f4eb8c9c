// Package util provides logging and traffic statistics shared by every role.
//
// Session code logs through Tagged, which prefixes each line with the first
// eight characters of the transfer ID so that the lines of concurrent or
// consecutive transfers can be told apart.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm's default logger.
// Output goes to pterm.DefaultLogger.Writer, stdout unless replaced.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Tagged prefixes every message with a short identifier such as a transfer
// ID, in the form "[a1b2c3d4] message".
type Tagged string

func (t Tagged) Debugf(format string, args ...interface{}) {
	LogDebug("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Infof(format string, args ...interface{}) {
	LogInfo("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Warnf(format string, args ...interface{}) {
	LogWarning("[%s] %s", string(t), fmt.Sprintf(format, args...))
}

func (t Tagged) Errorf(format string, args ...interface{}) {
	LogError("[%s] %s", string(t), fmt.Sprintf(format, args...))
}
