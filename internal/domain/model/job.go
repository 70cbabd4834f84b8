package model

import (
	"fmt"
	"strings"
)

type UserID int64

type SiteID string

const (
	SiteBMW   SiteID = "BMW"
	SiteNN77N SiteID = "NN77N"
)

func ParseSiteID(raw string) (SiteID, error) {
	switch SiteID(strings.ToUpper(strings.TrimSpace(raw))) {
	case SiteBMW:
		return SiteBMW, nil
	case SiteNN77N:
		return SiteNN77N, nil
	}
	return "", fmt.Errorf("unknown site %q", raw)
}

type Mode string

const (
	ModeRegister Mode = "register"
	ModeLogin    Mode = "login"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeRegister:
		return ModeRegister, nil
	case ModeLogin:
		return ModeLogin, nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}

type Credentials struct {
	Username string
	Password string
	Fullname string
}

// Job is one automation request for one account against one site.
type Job struct {
	Requester   UserID
	Site        SiteID
	Mode        Mode
	Credentials Credentials
}

// Selection is the front end's per-user mode/site choice. It is passed
// into every submission instead of living in shared process state.
type Selection struct {
	Mode Mode
	Site SiteID
}

func (s Selection) Ready() bool {
	return s.Mode != "" && s.Site != ""
}

func (s Selection) Jobs(requester UserID, creds []Credentials) []Job {
	jobs := make([]Job, 0, len(creds))
	for _, c := range creds {
		jobs = append(jobs, Job{Requester: requester, Site: s.Site, Mode: s.Mode, Credentials: c})
	}
	return jobs
}
