package errors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation         = "E100"
	CodeUserRejected       = "E110"
	CodeHealthFactor       = "E120"
	CodeNoDebt             = "E121"
	CodeInsufficientFunds  = "E122"
	CodeInsufficientGas    = "E130"
	CodeOutOfGas           = "E131"
	CodeInProgress         = "E140"
	CodeUnsupportedNetwork = "E150"
	CodeDatabase           = "E200"
	CodeExternalAPI        = "E300"
	CodeState              = "E400"
	CodeNotFound           = "E404"
	CodeRateLimit          = "E500"
	CodeTxFailed           = "E600"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// CodeOf returns the AppError code in err's chain, or "" when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsUserRejected reports whether err is a declined wallet signature.
func IsUserRejected(err error) bool {
	return HasCode(err, CodeUserRejected)
}

// IsValidation reports whether err was raised by input validation.
func IsValidation(err error) bool {
	return HasCode(err, CodeValidation)
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewUserRejectedError(cause error) *AppError {
	return &AppError{
		Code:        CodeUserRejected,
		Message:     "Transaction rejected by user",
		UserMessage: "Transaction cancelled",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewHealthFactorError(cause error) *AppError {
	return &AppError{
		Code:        CodeHealthFactor,
		Message:     "Health factor too low",
		UserMessage: "This operation would put your health factor below the liquidation threshold",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewNoDebtError(cause error) *AppError {
	return &AppError{
		Code:        CodeNoDebt,
		Message:     "No outstanding debt to repay",
		UserMessage: "There is no outstanding debt of the selected type",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewInsufficientBalanceError(cause error) *AppError {
	return &AppError{
		Code:        CodeInsufficientFunds,
		Message:     "Insufficient balance",
		UserMessage: "Insufficient balance for this operation",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewInsufficientGasError(cause error) *AppError {
	return &AppError{
		Code:        CodeInsufficientGas,
		Message:     "Insufficient funds for gas",
		UserMessage: "Not enough native balance to pay for gas",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewOutOfGasError(cause error) *AppError {
	return &AppError{
		Code:        CodeOutOfGas,
		Message:     "Transaction ran out of gas",
		UserMessage: "The transaction ran out of gas",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       cause,
	}
}

func NewInProgressError(key string) *AppError {
	return &AppError{
		Code:        CodeInProgress,
		Message:     fmt.Sprintf("Action already in progress: %s", key),
		UserMessage: "This action is already in progress",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewUnsupportedNetworkError(network string) *AppError {
	return &AppError{
		Code:        CodeUnsupportedNetwork,
		Message:     fmt.Sprintf("No Aave V3 pool address found for network: %s", network),
		UserMessage: "The selected network is not supported",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeDatabase,
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Temporary problem, please try again later",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	msg := fmt.Sprintf("External API error: %s", apiName)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}

	return &AppError{
		Code:        CodeExternalAPI,
		Message:     msg,
		UserMessage: "Market data is temporarily unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "Operation is not possible in the current state",
		Severity:    SeverityMedium,
		Retryable:   false,
	}
}

func NewNotFoundError(what string) *AppError {
	return &AppError{
		Code:        CodeNotFound,
		Message:     fmt.Sprintf("%s not found", what),
		UserMessage: fmt.Sprintf("%s not found", what),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many requests. Try again in %d seconds", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewTransactionError(action, reason string, cause error) *AppError {
	return &AppError{
		Code:        CodeTxFailed,
		Message:     fmt.Sprintf("%s failed: %s", action, reason),
		UserMessage: fmt.Sprintf("%s failed: %s", action, reason),
		Severity:    SeverityHigh,
		Retryable:   false,
		cause:       cause,
	}
}
