package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	adhttp "github.com/ohmynofan/luckywheel-bot/internal/adapters/http"
)

const (
	capsolverBaseURL = "https://api.capsolver.com"
	capsolverModule  = "common"
	capPollDelay     = 2 * time.Second
)

// CapSolver solves the challenge through CapSolver's ImageToTextTask, which
// usually answers synchronously from createTask.
type CapSolver struct {
	client       *adhttp.APIClient
	apiKey       string
	baseURL      string
	pollInterval time.Duration
}

func NewCapSolver(client *adhttp.APIClient, apiKey string) *CapSolver {
	return &CapSolver{
		client:       client,
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      capsolverBaseURL,
		pollInterval: capPollDelay,
	}
}

type capImageTask struct {
	Type   string `json:"type"`
	Body   string `json:"body"`
	Module string `json:"module,omitempty"`
}

type capResultReq struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type capTaskResp struct {
	ErrorID   int    `json:"errorId"`
	ErrorCode string `json:"errorCode"`
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	Solution  struct {
		Text string `json:"text"`
	} `json:"solution"`
}

func (c *CapSolver) Recognize(ctx context.Context, imagePath string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("capsolver api key not provided")
	}
	body, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}

	var resp capTaskResp
	task := capImageTask{Type: imageToTextTask, Body: body, Module: capsolverModule}
	if err := c.client.PostJSON(ctx, c.baseURL+createTaskPath, createTaskRequest{ClientKey: c.apiKey, Task: task}, &resp); err != nil {
		return "", err
	}

	op := "createTask"
	for {
		if err := capError(op, resp); err != nil {
			return "", err
		}
		switch strings.ToLower(strings.TrimSpace(resp.Status)) {
		case "ready", "completed":
			return resp.Solution.Text, nil
		case "processing", "queued", "idle":
		default:
			return "", fmt.Errorf("unexpected capsolver status: %s", resp.Status)
		}
		if strings.TrimSpace(resp.TaskID) == "" {
			return "", errors.New("capsolver returned empty task id")
		}

		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return "", err
		}
		taskID := resp.TaskID
		op = "getTaskResult"
		resp = capTaskResp{}
		if err := c.client.PostJSON(ctx, c.baseURL+getResultPath, capResultReq{ClientKey: c.apiKey, TaskID: taskID}, &resp); err != nil {
			return "", err
		}
		if resp.TaskID == "" {
			resp.TaskID = taskID
		}
	}
}

func capError(op string, resp capTaskResp) error {
	if resp.ErrorID == 0 && resp.ErrorCode == "" {
		return nil
	}
	if strings.EqualFold(resp.ErrorCode, CapErrZeroBalance) {
		return ErrZeroBalance
	}
	return fmt.Errorf("capsolver %s error: %s", op, resp.ErrorCode)
}
