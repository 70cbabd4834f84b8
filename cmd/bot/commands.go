package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ohmynofan/luckywheel-bot/internal/app/intake"
	"github.com/ohmynofan/luckywheel-bot/internal/app/report"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/ui"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Run a batch of accounts",
	Long: `Reads username,password,fullname lines from --file (or stdin) and
registers or logs them in on the chosen site.`,
	RunE: runSubmit,
}

var claimCmd = &cobra.Command{
	Use:   "claim [CODE]",
	Short: "Claim a trial code (any free code when none is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClaim,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show a user's quota usage",
	RunE:  runUsage,
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and manage user quotas",
}

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every user's quota",
	RunE:  runQuotaList,
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset USER_ID",
	Short: "Reset a user's usage counter and rate limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaReset,
}

var quotaCheckCmd = &cobra.Command{
	Use:   "check COUNT",
	Short: "Check whether COUNT accounts would be admitted",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaCheck,
}

var codesCmd = &cobra.Command{
	Use:   "codes [CODE]",
	Short: "List the trial code pool and who claimed each code",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCodes,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker pool and memory status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(application.Status().String())
		return nil
	},
}

func init() {
	submitCmd.Flags().String("mode", "", "register or login")
	submitCmd.Flags().String("site", "", "BMW or NN77N")
	submitCmd.Flags().StringP("file", "f", "", "accounts file (default stdin)")
	_ = submitCmd.MarkFlagRequired("mode")
	_ = submitCmd.MarkFlagRequired("site")

	quotaCmd.AddCommand(quotaListCmd, quotaResetCmd, quotaCheckCmd)
	rootCmd.AddCommand(submitCmd, claimCmd, usageCmd, quotaCmd, codesCmd, statusCmd)
}

func requester() model.UserID { return model.UserID(userID) }

func runSubmit(cmd *cobra.Command, args []string) error {
	rawMode, _ := cmd.Flags().GetString("mode")
	rawSite, _ := cmd.Flags().GetString("site")
	path, _ := cmd.Flags().GetString("file")

	mode, err := model.ParseMode(rawMode)
	if err != nil {
		return err
	}
	site, err := model.ParseSiteID(rawSite)
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	text, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	creds, invalid := intake.Parse(string(text))
	if len(invalid) > 0 {
		pterm.Warning.Print(report.Validation(invalid))
	}
	if len(creds) == 0 {
		pterm.Error.Println("No account data detected. Send accounts as username,password,fullname")
		return nil
	}

	ctx := cmd.Context()
	sel := model.Selection{Mode: mode, Site: site}
	if err := application.CheckQuota(ctx, requester(), min(len(creds), application.Config().Limits.MaxAccountsPerMessage)); err != nil {
		pterm.Error.Println(report.Error(err))
		return nil
	}

	ui.StartUISystem()
	batch, err := application.SubmitBatch(ctx, requester(), sel.Jobs(requester(), creds))
	ui.StopUISystem()
	if err != nil && batch.Results == nil {
		pterm.Error.Println(report.Error(err))
		return nil
	}

	limits := application.Config().Limits
	fmt.Print(report.Batch(report.BatchSummary{
		Mode:       mode,
		Site:       site,
		Results:    batch.Results,
		Dropped:    batch.Dropped,
		Cap:        limits.MaxAccountsPerMessage,
		Used:       batch.Quota.AccountsUsed,
		Limit:      limits.MaxAccountsTotal,
		Privileged: application.Config().IsAdmin(requester()),
	}))
	if err != nil {
		pterm.Error.Println(report.Error(err))
	}
	return nil
}

func runClaim(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if application.Config().IsAdmin(requester()) {
		pterm.Info.Println("Admin no need to claim codes.")
		return nil
	}

	var (
		code string
		err  error
	)
	if len(args) == 1 {
		code, err = application.ClaimEntitlement(ctx, requester(), args[0])
	} else {
		code, err = application.ClaimAnyEntitlement(ctx, requester())
	}
	if err != nil {
		pterm.Error.Println(report.Error(err))
		return nil
	}
	pterm.Success.Printfln("Trial code %s claimed. You can now register or login accounts.", code)
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	if application.Config().IsAdmin(requester()) {
		pterm.Info.Println("You have unlimited access as admin.")
		return nil
	}
	q, err := application.Usage(cmd.Context(), requester())
	if err != nil {
		pterm.Error.Println(report.Error(err))
		return nil
	}
	fmt.Print(report.Usage(q, application.Config().Limits.MaxAccountsTotal, time.Now()))
	return nil
}

func runQuotaList(cmd *cobra.Command, args []string) error {
	qs, err := application.ListQuotas(cmd.Context())
	if err != nil {
		return err
	}
	table, err := report.Quotas(qs, application.Config().Limits.MaxAccountsTotal, time.Now())
	if err != nil {
		return err
	}
	fmt.Print(table)
	return nil
}

func runQuotaReset(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	if err := application.ResetQuota(cmd.Context(), model.UserID(id)); err != nil {
		pterm.Error.Println(report.Error(err))
		return nil
	}
	pterm.Success.Printfln("Usage reset for user %d.", id)
	return nil
}

func runQuotaCheck(cmd *cobra.Command, args []string) error {
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 0 {
		return fmt.Errorf("invalid count %q", args[0])
	}
	if err := application.CheckQuota(cmd.Context(), requester(), count); err != nil {
		pterm.Warning.Println(report.Error(err))
		return nil
	}
	pterm.Success.Printfln("%d account(s) would be admitted.", count)
	return nil
}

func runCodes(cmd *cobra.Command, args []string) error {
	var codes []model.EntitlementCode
	if len(args) == 1 {
		c, err := application.Code(cmd.Context(), args[0])
		if err != nil {
			pterm.Error.Println(report.Error(err))
			return nil
		}
		codes = append(codes, c)
	} else {
		var err error
		if codes, err = application.ListCodes(cmd.Context()); err != nil {
			return err
		}
	}
	table, err := report.Codes(codes, time.Now())
	if err != nil {
		return err
	}
	fmt.Print(table)
	return nil
}
