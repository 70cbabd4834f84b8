package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/pkg/utils"
)

const (
	StrategyMarkerPoll = "marker_poll"
	StrategyDialogRace = "dialog_race"
)

type Site struct {
	ID        model.SiteID `yaml:"-"`
	Name      string       `yaml:"name"`
	URL       string       `yaml:"url"`
	Referral  string       `yaml:"referral"`
	Strategy  string       `yaml:"strategy"`
	Selectors Selectors    `yaml:"selectors"`
}

type Selectors struct {
	IntroClose         string `yaml:"intro_close"`
	RegisterOpen       string `yaml:"register_open"`
	LoginOpen          string `yaml:"login_open"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ConfirmPassword    string `yaml:"confirm_password"`
	Fullname           string `yaml:"fullname"`
	DuplicateMarker    string `yaml:"duplicate_marker"`
	DuplicateText      string `yaml:"duplicate_text"`
	ChallengeInput     string `yaml:"challenge_input"`
	RegisterChallenge  string `yaml:"register_challenge"`
	LoginChallenge     string `yaml:"login_challenge"`
	Submit             string `yaml:"submit"`
	LoginError         string `yaml:"login_error"`
	BonusOptions       string `yaml:"bonus_options"`
	BonusOptionIndex   int    `yaml:"bonus_option_index"`
	BonusSurfaceOpen   string `yaml:"bonus_surface_open"`
	SpinStart          string `yaml:"spin_start"`
	BonusSuccess       string `yaml:"bonus_success"`
	BonusDescription   string `yaml:"bonus_description"`
	BonusError         string `yaml:"bonus_error"`
	ErrorDialog        string `yaml:"error_dialog"`
	ErrorDialogMessage string `yaml:"error_dialog_message"`
	ErrorDialogConfirm string `yaml:"error_dialog_confirm"`
}

type entryParams struct {
	Referral string `url:"r,omitempty"`
}

// EntryURL is the landing page with the referral query attached.
func (s Site) EntryURL() (string, error) {
	params, err := utils.EncodeURLParams(entryParams{Referral: s.Referral})
	if err != nil {
		return "", err
	}
	if params == "" {
		return s.URL, nil
	}
	return s.URL + "?" + params, nil
}

func sharedSelectors() Selectors {
	return Selectors{
		IntroClose:         `span[translate="Common_Closed"]`,
		Username:           `input[ng-model="$ctrl.user.account.value"]`,
		Password:           `input[ng-model="$ctrl.user.password.value"]`,
		ConfirmPassword:    `input[ng-model="$ctrl.user.confirmPassword.value"]`,
		Fullname:           `input[ng-model="$ctrl.user.name.value"]`,
		DuplicateMarker:    `div[ng-if="isOpen"][ng-bind="title"]`,
		DuplicateText:      "account exist",
		ChallengeInput:     `input[ng-model="$ctrl.code"]`,
		RegisterChallenge:  `img._3MSK6A03OPsM8LoNU-b9qF`,
		LoginChallenge:     `img.dVSNlKsQ1qaz1uSto7bNM`,
		Submit:             `button[type="submit"]`,
		LoginError:         `div[bind-html-compile="$ctrl.content"]`,
		BonusOptions:       `ul._1f9NenqKkFJGmyt8Rb8Kuh li`,
		BonusOptionIndex:   1,
		SpinStart:          `span[translate="NewLuckyWheel_Start"]`,
		ErrorDialogMessage: `gupw-dialog-alert div.modal-body div[bind-html-compile]`,
		ErrorDialogConfirm: `gupw-dialog-alert button.btn-primary`,
	}
}

func DefaultSites() map[model.SiteID]Site {
	bmw := sharedSelectors()
	bmw.RegisterOpen = `span._3mCDiKdouGMmZfJFbIxy5G.ppUNnOlkVUpue-NNt6vxo`
	bmw.LoginOpen = `div._2mBNgBjbvImj-b_6WuwAFm`
	bmw.BonusSurfaceOpen = `img[ng-src*="NewLuckyWheel"]`
	bmw.BonusSuccess = `p[ng-if="!$ctrl.notWinning"][ng-bind="$ctrl.description"]`
	bmw.BonusError = `div[bind-html-compile="$ctrl.content"]`

	nn := sharedSelectors()
	nn.RegisterOpen = `button.ng-binding.ppUNnOlkVUpue-NNt6vxo`
	nn.LoginOpen = `._2mBNgBjbvImj-b_6WuwAFm`
	nn.BonusSurfaceOpen = `img[ng-src*="NewLuckyWheel"], img[src*="NewLuckyWheel"]`
	nn.BonusSuccess = `h2[translate="NewLuckyWheel_CongrazYouGet"]`
	nn.BonusDescription = `p[ng-bind="$ctrl.description"]`
	nn.ErrorDialog = `gupw-dialog-alert`

	return map[model.SiteID]Site{
		model.SiteBMW: {
			ID:        model.SiteBMW,
			Name:      "BMW (05bmw.com)",
			URL:       "https://05bmw.com",
			Referral:  "NW44EK",
			Strategy:  StrategyMarkerPoll,
			Selectors: bmw,
		},
		model.SiteNN77N: {
			ID:        model.SiteNN77N,
			Name:      "NN77N (nn77n.com)",
			URL:       "https://nn77n.com",
			Strategy:  StrategyDialogRace,
			Selectors: nn,
		},
	}
}

// LoadSites overlays a YAML file on top of base. Only the fields present in
// the file are replaced; unknown site ids are rejected.
func LoadSites(path string, base map[model.SiteID]Site) (map[model.SiteID]Site, error) {
	out := make(map[model.SiteID]Site, len(base))
	for id, s := range base {
		out[id] = s
	}
	if path == "" {
		return out, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sites file: %w", err)
	}

	for key, node := range raw {
		id, err := model.ParseSiteID(key)
		if err != nil {
			return nil, fmt.Errorf("sites file: %w", err)
		}
		site := out[id]
		if err := node.Decode(&site); err != nil {
			return nil, fmt.Errorf("sites file: site %s: %w", id, err)
		}
		site.ID = id
		out[id] = site
	}
	return out, nil
}
