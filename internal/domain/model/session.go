package model

// Session is the display and logging context of one running job.
type Session struct {
	JobID     string
	Index     int
	Requester UserID
	Username  string
	Site      SiteID
	Mode      Mode
	State     string
	Attempt   int
	Result    string
}

func NewSession(jobID string, index int, job Job) *Session {
	return &Session{
		JobID:     jobID,
		Index:     index,
		Requester: job.Requester,
		Username:  job.Credentials.Username,
		Site:      job.Site,
		Mode:      job.Mode,
		State:     "WAITING",
		Attempt:   1,
	}
}
