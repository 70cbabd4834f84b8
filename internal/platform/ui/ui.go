package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

var (
	multi    *pterm.MultiPrinter
	spinners = make(map[string]*pterm.SpinnerPrinter)
	mu       sync.Mutex
)

func StartUISystem() {
	mu.Lock()
	defer mu.Unlock()
	m, _ := pterm.DefaultMultiPrinter.Start()
	multi = m
}

func StopUISystem() {
	mu.Lock()
	defer mu.Unlock()
	if multi != nil {
		multi.Stop()
		multi = nil
	}
	spinners = make(map[string]*pterm.SpinnerPrinter)
}

func Running() bool {
	mu.Lock()
	defer mu.Unlock()
	return multi != nil
}

func UpdateStatus(session model.Session, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	updateLocked(session, status, remainingDelay)
}

func updateLocked(session model.Session, status string, remainingDelay time.Duration) {
	if multi == nil {
		return
	}
	content := render(session, status, remainingDelay)

	if spinner, ok := spinners[session.JobID]; ok {
		spinner.UpdateText(content)
		return
	}
	spinner, _ := pterm.DefaultSpinner.
		WithWriter(multi.NewWriter()).
		WithRemoveWhenDone(false).
		Start(content)
	spinners[session.JobID] = spinner
}

func render(session model.Session, status string, remainingDelay time.Duration) string {
	return fmt.Sprintf(`
=============== Account %d ================
Username : %s
Site     : %s
Mode     : %s
Attempt  : %d
State    : %s

Status   : %s
Delay    : %s
===========================================`,
		session.Index+1,
		session.Username,
		session.Site,
		session.Mode,
		session.Attempt,
		defaultString(session.State, "WAITING"),
		status,
		FormatDelay(remainingDelay))
}

func SetSpinnerSuccess(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[session.JobID]; ok {
		updateLocked(session, finalMessage, 0)
		spinner.Success()
		delete(spinners, session.JobID)
	}
}

func SetSpinnerError(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[session.JobID]; ok {
		updateLocked(session, finalMessage, 0)
		spinner.Fail()
		delete(spinners, session.JobID)
	}
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
