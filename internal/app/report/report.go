// Package report renders outcomes and errors as the text shown to requesters.
package report

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

func Result(mode model.Mode, r model.JobResult) string {
	o := r.Outcome
	switch o.Kind {
	case model.OutcomeCreated:
		return fmt.Sprintf("[OK] Registered %q successfully.", r.Username)
	case model.OutcomeAlreadyExists:
		return fmt.Sprintf("[SKIP] Account %q already exists, skipped.", r.Username)
	case model.OutcomeBonusAwarded:
		return fmt.Sprintf("[OK] %q spun and got bonus: %s", r.Username, o.Message)
	case model.OutcomeNoBonus:
		return fmt.Sprintf("[--] %q logged in but got no bonus: %s", r.Username, o.Message)
	case model.OutcomeLoginRejected:
		return fmt.Sprintf("[FAIL] Login error for %q: %s", r.Username, o.Message)
	}
	if mode == model.ModeRegister {
		return fmt.Sprintf("[FAIL] Registration failed for %q: %s", r.Username, reason(o))
	}
	return fmt.Sprintf("[FAIL] Login failed for %q: %s", r.Username, reason(o))
}

func reason(o model.Outcome) string {
	if o.Reason == "" {
		return "processing error"
	}
	return o.Reason
}

type BatchSummary struct {
	Mode       model.Mode
	Site       model.SiteID
	Results    []model.JobResult
	Dropped    int
	Cap        int
	Used       int
	Limit      int
	Privileged bool
}

func Batch(s BatchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s: %d account(s)\n", strings.ToUpper(string(s.Mode)), s.Site, len(s.Results))
	if s.Dropped > 0 {
		fmt.Fprintf(&b, "Note: only the first %d accounts were processed, %d ignored.\n", s.Cap, s.Dropped)
	}
	b.WriteString("\n")
	for _, r := range s.Results {
		b.WriteString(Result(s.Mode, r))
		b.WriteString("\n")
	}
	if s.Privileged {
		return b.String()
	}

	fmt.Fprintf(&b, "\nYou have used %d/%d accounts total.\n", min(s.Used, s.Limit), s.Limit)
	if s.Used >= s.Limit {
		b.WriteString("You have reached your total account submission limit. Use usage for details.\n")
	}
	return b.String()
}

func Validation(errs []*model.ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Errors found in your input lines:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "  Line %d: %s\n", e.Line, e.Reason)
	}
	return b.String()
}

// Error renders a batch or facade error. Anything unclassified becomes the
// generic processing error.
func Error(err error) string {
	var qe *model.QuotaError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &qe):
		return quotaMessage(qe)
	case errors.Is(err, model.ErrAlreadyEntitled):
		return "You have already claimed a trial code and cannot claim another."
	case errors.Is(err, model.ErrUnknownCode):
		return "Invalid trial code."
	case errors.Is(err, model.ErrClaimConflict):
		return "Code already claimed by someone else."
	case errors.Is(err, model.ErrNoCodesLeft):
		return "Sorry, no free trial codes are available at this time."
	case errors.Is(err, model.ErrUnknownUser):
		return "You have not claimed a trial code yet."
	}
	return "An error occurred during processing: processing error"
}

func quotaMessage(qe *model.QuotaError) string {
	switch qe.Reason {
	case model.QuotaNotEntitled:
		return "You must claim a trial code first."
	case model.QuotaBatchTooLarge:
		return fmt.Sprintf("Max %d accounts per message allowed.", qe.Limit)
	case model.QuotaTotalLimit:
		return fmt.Sprintf("Total account limit reached (%d/%d).", qe.Used, qe.Limit)
	case model.QuotaRateLimited:
		secs := int(math.Ceil(qe.Wait.Seconds()))
		return fmt.Sprintf("Please wait %d second(s) before next request.", secs)
	}
	return qe.Error()
}

func Usage(q model.UserQuota, limit int, now time.Time) string {
	last := "never"
	if !q.LastRequestAt.IsZero() {
		last = humanize.RelTime(q.LastRequestAt, now, "ago", "from now")
	}
	return fmt.Sprintf("Your usage:\n- Trial Code: %s\n- Accounts used: %d out of %d allowed\n- Last request: %s\n",
		q.ClaimedCode, q.AccountsUsed, limit, last)
}

func Quotas(qs []model.UserQuota, limit int, now time.Time) (string, error) {
	if len(qs) == 0 {
		return "No users yet.\n", nil
	}
	data := pterm.TableData{{"User", "Code", "Used", "Reserved", "Last request"}}
	for _, q := range qs {
		last := "never"
		if !q.LastRequestAt.IsZero() {
			last = humanize.RelTime(q.LastRequestAt, now, "ago", "from now")
		}
		data = append(data, []string{
			strconv.FormatInt(int64(q.UserID), 10),
			defaultString(q.ClaimedCode, "-"),
			fmt.Sprintf("%d/%d", q.AccountsUsed, limit),
			strconv.Itoa(q.AccountsReserved),
			last,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

func Codes(cs []model.EntitlementCode, now time.Time) (string, error) {
	if len(cs) == 0 {
		return "No trial codes configured.\n", nil
	}
	data := pterm.TableData{{"Code", "Claimed by", "Claimed"}}
	for _, c := range cs {
		by, at := "-", "-"
		if c.Claimed() {
			by = strconv.FormatInt(int64(*c.ClaimedBy), 10)
		}
		if c.ClaimedAt != nil {
			at = humanize.RelTime(*c.ClaimedAt, now, "ago", "from now")
		}
		data = append(data, []string{c.Code, by, at})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

type Status struct {
	PoolWidth int
	Active    int
	Queued    int
	HeapAlloc uint64
	Sys       uint64
}

func (s Status) String() string {
	return fmt.Sprintf("Bot Status\n- Worker pool width: %d\n- Running jobs: %d\n- Queued jobs: %d\n- Heap in use: %s\n- Memory from OS: %s\n",
		s.PoolWidth, s.Active, s.Queued, humanize.Bytes(s.HeapAlloc), humanize.Bytes(s.Sys))
}

func defaultString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
