package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

const (
	ProviderTesseract  = "tesseract"
	ProviderTwoCaptcha = "2captcha"
	ProviderCapSolver  = "capsolver"
)

var defaultTrialCodes = []string{"GALIT2", "AKOSA0", "MAGNANAKAW2", "SAKABAN5", "NGBAYAN5"}

type Config struct {
	AdminUserIDs     []model.UserID
	TrialCodes       []string
	DatabasePath     string
	LogFile          string
	SitesFile        string
	MetricsAddr      string
	CaptchaProvider  string
	SolverProxy      string
	TwoCaptchaAPIKey string
	CapSolverAPIKey  string
	Limits           Limits
	Timeouts         Timeouts
	Challenge        Challenge
	Browser          Browser
	Sites            map[model.SiteID]Site
}

type Limits struct {
	MaxAccountsTotal      int
	MaxAccountsPerMessage int
	RateLimit             time.Duration
	WorkerPoolSize        int
}

type Timeouts struct {
	Navigate        time.Duration
	Popup           time.Duration
	Form            time.Duration
	DuplicateCheck  time.Duration
	LoginError      time.Duration
	PostSubmit      time.Duration
	RegisterConfirm time.Duration
	BonusOptions    time.Duration
	BonusSurface    time.Duration
	BonusOutcome    time.Duration
	BonusRace       time.Duration
	ErrorDialog     time.Duration
	DialogPoll      time.Duration
	PollInterval    time.Duration
	Settle          time.Duration
}

type Challenge struct {
	Attempts       int
	OCRAttempts    int
	ImageTimeout   time.Duration
	ImageSettle    time.Duration
	OCRBackoff     time.Duration
	AttemptBackoff time.Duration
	TempDir        string
}

type Browser struct {
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Pacing       Pacing
}

type Pacing struct {
	Enabled      bool
	TypeDelayMin time.Duration
	TypeDelayMax time.Duration
	StepDelay    time.Duration
}

func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using default values")
	}

	perMessage := parseIntWithDefault(os.Getenv("MAX_ACCOUNTS_PER_MESSAGE"), 6)
	total := parseIntWithDefault(os.Getenv("MAX_ACCOUNTS_TOTAL"), 12)
	if total < perMessage {
		perMessage = total
	}

	typeMin := parseMillis(os.Getenv("TYPE_DELAY_MIN_MS"), 40)
	typeMax := parseMillis(os.Getenv("TYPE_DELAY_MAX_MS"), 140)
	if typeMax < typeMin {
		typeMax = typeMin
	}

	codes := splitList(os.Getenv("TRIAL_CODES"))
	if len(codes) == 0 {
		codes = append([]string(nil), defaultTrialCodes...)
	}
	for i := range codes {
		codes[i] = strings.ToUpper(codes[i])
	}

	return Config{
		AdminUserIDs:     parseUserIDs(defaultString(os.Getenv("ADMIN_USER_IDS"), "1226644586")),
		TrialCodes:       codes,
		DatabasePath:     defaultString(os.Getenv("DATABASE_PATH"), "data/bot.db"),
		LogFile:          defaultString(os.Getenv("LOG_FILE"), "logs/bot-usage.log"),
		SitesFile:        strings.TrimSpace(os.Getenv("SITES_FILE")),
		MetricsAddr:      strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		CaptchaProvider:  strings.ToLower(defaultString(os.Getenv("CAPTCHA_PROVIDER"), ProviderTesseract)),
		SolverProxy:      strings.TrimSpace(os.Getenv("SOLVER_PROXY")),
		TwoCaptchaAPIKey: strings.TrimSpace(os.Getenv("TWO_CAPTCHA_API_KEY")),
		CapSolverAPIKey:  strings.TrimSpace(os.Getenv("CAPSOLVER_API_KEY")),
		Limits: Limits{
			MaxAccountsTotal:      total,
			MaxAccountsPerMessage: perMessage,
			RateLimit:             parseMillis(os.Getenv("RATE_LIMIT_MS"), 10_000),
			WorkerPoolSize:        parseIntWithDefault(os.Getenv("WORKER_POOL_SIZE"), 3),
		},
		Timeouts: Timeouts{
			Navigate:        parseMillis(os.Getenv("NAVIGATE_TIMEOUT_MS"), 30_000),
			Popup:           parseMillis(os.Getenv("POPUP_TIMEOUT_MS"), 5_000),
			Form:            parseMillis(os.Getenv("FORM_TIMEOUT_MS"), 10_000),
			DuplicateCheck:  parseMillis(os.Getenv("DUPLICATE_CHECK_TIMEOUT_MS"), 2_500),
			LoginError:      parseMillis(os.Getenv("LOGIN_ERROR_TIMEOUT_MS"), 2_000),
			PostSubmit:      parseMillis(os.Getenv("POST_SUBMIT_MS"), 3_000),
			RegisterConfirm: parseMillis(os.Getenv("REGISTER_CONFIRM_MS"), 5_000),
			BonusOptions:    parseMillis(os.Getenv("BONUS_OPTIONS_TIMEOUT_MS"), 10_000),
			BonusSurface:    parseMillis(os.Getenv("BONUS_SURFACE_TIMEOUT_MS"), 20_000),
			BonusOutcome:    parseMillis(os.Getenv("BONUS_OUTCOME_TIMEOUT_MS"), 15_000),
			BonusRace:       parseMillis(os.Getenv("BONUS_RACE_TIMEOUT_MS"), 10_000),
			ErrorDialog:     parseMillis(os.Getenv("ERROR_DIALOG_TIMEOUT_MS"), 8_000),
			DialogPoll:      parseMillis(os.Getenv("DIALOG_POLL_MS"), 800),
			PollInterval:    parseMillis(os.Getenv("POLL_INTERVAL_MS"), 1_000),
			Settle:          parseMillis(os.Getenv("SETTLE_MS"), 1_500),
		},
		Challenge: Challenge{
			Attempts:       parseIntWithDefault(os.Getenv("CHALLENGE_ATTEMPTS"), 3),
			OCRAttempts:    parseIntWithDefault(os.Getenv("CHALLENGE_OCR_ATTEMPTS"), 3),
			ImageTimeout:   parseMillis(os.Getenv("CHALLENGE_TIMEOUT_MS"), 15_000),
			ImageSettle:    parseMillis(os.Getenv("CHALLENGE_SETTLE_MS"), 4_000),
			OCRBackoff:     parseMillis(os.Getenv("CHALLENGE_OCR_BACKOFF_MS"), 1_000),
			AttemptBackoff: parseMillis(os.Getenv("CHALLENGE_BACKOFF_MS"), 1_500),
			TempDir:        strings.TrimSpace(os.Getenv("CHALLENGE_TEMP_DIR")),
		},
		Browser: Browser{
			Headless:     parseBoolWithDefault(os.Getenv("HEADLESS"), true),
			UserAgent:    defaultString(os.Getenv("USER_AGENT"), "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"),
			WindowWidth:  1280,
			WindowHeight: 800,
			Pacing: Pacing{
				Enabled:      parseBoolWithDefault(os.Getenv("PACING_ENABLED"), true),
				TypeDelayMin: typeMin,
				TypeDelayMax: typeMax,
				StepDelay:    parseMillis(os.Getenv("STEP_DELAY_MS"), 1_000),
			},
		},
		Sites: DefaultSites(),
	}
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func parseMillis(value string, defaultMs int) time.Duration {
	return time.Duration(parseIntWithDefault(value, defaultMs)) * time.Millisecond
}

func parseBoolWithDefault(value string, defaultVal bool) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.ParseBool(value); err == nil {
		return v
	}
	return defaultVal
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseUserIDs(value string) []model.UserID {
	var ids []model.UserID
	for _, part := range splitList(value) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Ignoring invalid admin user id %q", part)
			continue
		}
		ids = append(ids, model.UserID(id))
	}
	return ids
}

func (c Config) IsAdmin(userID model.UserID) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (c Config) IsTrialCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, known := range c.TrialCodes {
		if known == code {
			return true
		}
	}
	return false
}

func (c Config) Validate() error {
	if len(c.TrialCodes) == 0 {
		return errors.New("at least one trial code is required (TRIAL_CODES)")
	}
	if c.Limits.WorkerPoolSize <= 0 {
		return errors.New("WORKER_POOL_SIZE must be positive")
	}
	if c.Limits.MaxAccountsPerMessage <= 0 || c.Limits.MaxAccountsTotal <= 0 {
		return errors.New("account limits must be positive")
	}
	if c.Challenge.Attempts <= 0 || c.Challenge.OCRAttempts <= 0 {
		return errors.New("challenge retry bounds must be positive")
	}
	switch c.CaptchaProvider {
	case ProviderTesseract:
	case ProviderTwoCaptcha:
		if c.TwoCaptchaAPIKey == "" {
			return errors.New("TWO_CAPTCHA_API_KEY required for the 2captcha provider")
		}
	case ProviderCapSolver:
		if c.CapSolverAPIKey == "" {
			return errors.New("CAPSOLVER_API_KEY required for the capsolver provider")
		}
	default:
		return fmt.Errorf("unknown CAPTCHA_PROVIDER %q", c.CaptchaProvider)
	}
	for id, site := range c.Sites {
		if strings.TrimSpace(site.URL) == "" {
			return fmt.Errorf("site %s has no url", id)
		}
	}
	return nil
}
