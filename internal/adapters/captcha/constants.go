package captcha

import "errors"

const (
	CapErrZeroBalance       = "ERROR_ZERO_BALANCE"
	CapErrTaskNotFound      = "ERROR_TASK_NOT_FOUND"
	CapErrInvalidTaskData   = "ERROR_INVALID_TASK_DATA"
	CapErrCaptchaUnsolvable = "ERROR_CAPTCHA_UNSOLVABLE"
	TwoErrZeroBalance       = "ERROR_ZERO_BALANCE"
	TwoErrNoSlots           = "ERROR_NO_SLOT_AVAILABLE"
	TwoErrCaptchaUnsolvable = "ERROR_CAPTCHA_UNSOLVABLE"
	imageToTextTask         = "ImageToTextTask"
	challengeLength         = 4
)

var ErrZeroBalance = errors.New("captcha solver zero balance")
