package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	adhttp "github.com/ohmynofan/luckywheel-bot/internal/adapters/http"
)

const (
	twoCaptchaBaseURL = "https://api.2captcha.com"
	createTaskPath    = "/createTask"
	getResultPath     = "/getTaskResult"
	defaultPollWait   = 5 * time.Second
)

// TwoCaptcha solves the challenge through 2Captcha's ImageToTextTask.
type TwoCaptcha struct {
	client       *adhttp.APIClient
	apiKey       string
	baseURL      string
	waitInterval time.Duration
}

func NewTwoCaptcha(client *adhttp.APIClient, apiKey string) *TwoCaptcha {
	return &TwoCaptcha{
		client:       client,
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      twoCaptchaBaseURL,
		waitInterval: defaultPollWait,
	}
}

type createTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	Task      interface{} `json:"task"`
}

type twoImageTask struct {
	Type      string `json:"type"`
	Body      string `json:"body"`
	Numeric   int    `json:"numeric"`
	MinLength int    `json:"minLength"`
	MaxLength int    `json:"maxLength"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	TaskID           int64  `json:"taskId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

type resultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type getResultResponse struct {
	ErrorID  int    `json:"errorId"`
	Status   string `json:"status"`
	Solution struct {
		Text string `json:"text"`
	} `json:"solution"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
}

func (tc *TwoCaptcha) Recognize(ctx context.Context, imagePath string) (string, error) {
	if tc.apiKey == "" {
		return "", errors.New("2captcha api key not provided")
	}
	body, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}

	task := twoImageTask{
		Type:      imageToTextTask,
		Body:      body,
		Numeric:   1,
		MinLength: challengeLength,
		MaxLength: challengeLength,
	}

	var createResp createTaskResponse
	if err := tc.client.PostJSON(ctx, tc.baseURL+createTaskPath, createTaskRequest{ClientKey: tc.apiKey, Task: task}, &createResp); err != nil {
		return "", err
	}
	if createResp.ErrorID != 0 {
		if strings.EqualFold(createResp.ErrorCode, TwoErrZeroBalance) {
			return "", ErrZeroBalance
		}
		return "", fmt.Errorf("2captcha createTask error: %s - %s", createResp.ErrorCode, createResp.ErrorDescription)
	}

	for {
		if err := sleepCtx(ctx, tc.waitInterval); err != nil {
			return "", err
		}

		var result getResultResponse
		req := resultRequest{ClientKey: tc.apiKey, TaskID: createResp.TaskID}
		if err := tc.client.PostJSON(ctx, tc.baseURL+getResultPath, req, &result); err != nil {
			return "", err
		}

		if result.ErrorID != 0 {
			if strings.EqualFold(result.ErrorCode, TwoErrZeroBalance) {
				return "", ErrZeroBalance
			}
			return "", fmt.Errorf("2captcha getTaskResult error: %s - %s", result.ErrorCode, result.ErrorDescription)
		}

		switch strings.ToLower(result.Status) {
		case "processing":
			continue
		case "ready":
			return result.Solution.Text, nil
		default:
			return "", fmt.Errorf("unexpected 2captcha status: %s", result.Status)
		}
	}
}

func encodeImage(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read challenge image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
