package core

// error_messages.go maps technical errors to user-facing messages with
// codes for support reference.
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Template not found: The selected template page does not exist
//	         Action: Pick a template from the list and try again
//	         Sentinel: generate.ErrTemplateNotFound
//
// # Input Errors (INP001-INP099)
//
//	INP001 - Empty input: The CSV has no data rows or no placeholder is mapped
//	         Action: Upload a CSV with data rows and map at least one placeholder
//	         Sentinel: generate.ErrEmptyInput
//
//	INP002 - Invalid request: The request is malformed or exceeds limits
//	         Action: Check the submitted fields and try again
//	         Sentinel: ErrInvalidRequest; Patterns: "invalid request"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: The CSV exceeds the upload size limit
//	          Action: Split the file into smaller files
//	          Sentinel: csvtable.ErrFileTooLarge; Patterns: "file too large"
//
//	FILE002 - Invalid CSV: The file has no header row
//	          Action: Make sure the first line lists the column names
//	          Patterns: "invalid csv"
//
//	FILE003 - Encoding error: The file could not be read as text
//	          Action: Save the file as UTF-8
//	          Sentinel: csvtable.ErrInvalidEncoding; Patterns: "encoding error"
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a CSV file to upload
//	          Patterns: "no file provided"
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job cancelled: Generation was cancelled before it finished
//	         Action: Pages created so far were kept; start a new run for the rest
//	         Sentinel: context.Canceled
//
//	JOB002 - System busy: Too many generation jobs are running
//	         Action: Please wait a moment and try again
//	         Sentinel: ErrTooManyJobs
//
//	JOB003 - Job not found: The job expired or never existed
//	         Action: Check the run history for its outcome
//	         Sentinel: ErrJobNotFound
//
//	JOB004 - Job timed out: Generation took longer than allowed
//	         Action: Split the CSV into smaller batches
//	         Sentinel: context.DeadlineExceeded; Patterns: "timeout"
//
// # Storage Errors (DB001-DB099)
//
//	DB001 - Duplicate page: A page with this slug already exists
//	        Action: Use a different slug column value
//	        Patterns: "duplicate key", "unique constraint"
//
//	DB002 - Connection problem: Unable to reach the database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused", "connection reset"
//
//	DB003 - Page not found: A referenced page does not exist
//	        Action: Check the parent page setting
//	        Sentinel: content.ErrNotFound
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// Sentinels are checked with errors.Is before any pattern. Patterns are
// matched case-insensitively with strings.Contains; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/generate"
)

// ErrInvalidRequest marks requests rejected at the boundary.
var ErrInvalidRequest = errors.New("invalid request")

// ErrJobNotFound is returned for unknown or expired job IDs.
var ErrJobNotFound = errors.New("job not found")

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgTemplateNotFound = UserMessage{
		Message: "The selected template page does not exist",
		Action:  "Pick a template from the list and try again",
		Code:    "TPL001",
	}
	msgEmptyInput = UserMessage{
		Message: "The CSV has no data rows or no placeholder is mapped",
		Action:  "Upload a CSV with data rows and map at least one placeholder",
		Code:    "INP001",
	}
	msgInvalidRequest = UserMessage{
		Message: "The request is malformed or exceeds limits",
		Action:  "Check the submitted fields and try again",
		Code:    "INP002",
	}
	msgFileTooLarge = UserMessage{
		Message: "The CSV exceeds the upload size limit",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}
	msgCancelled = UserMessage{
		Message: "Generation was cancelled before it finished",
		Action:  "Pages created so far were kept; start a new run for the rest",
		Code:    "JOB001",
	}
	msgBusy = UserMessage{
		Message: "Too many generation jobs are running",
		Action:  "Please wait a moment and try again",
		Code:    "JOB002",
	}
	msgJobNotFound = UserMessage{
		Message: "The job expired or never existed",
		Action:  "Check the run history for its outcome",
		Code:    "JOB003",
	}
	msgTimeout = UserMessage{
		Message: "Generation took longer than allowed",
		Action:  "Split the CSV into smaller batches",
		Code:    "JOB004",
	}
	msgEncoding = UserMessage{
		Message: "The file could not be read as text",
		Action:  "Save the file as UTF-8",
		Code:    "FILE003",
	}
	msgPageNotFound = UserMessage{
		Message: "A referenced page does not exist",
		Action:  "Check the parent page setting",
		Code:    "DB003",
	}
)

// errorSentinels are checked in order with errors.Is.
var errorSentinels = []struct {
	err error
	msg UserMessage
}{
	{generate.ErrTemplateNotFound, msgTemplateNotFound},
	{generate.ErrEmptyInput, msgEmptyInput},
	{ErrInvalidRequest, msgInvalidRequest},
	{csvtable.ErrFileTooLarge, msgFileTooLarge},
	{csvtable.ErrInvalidEncoding, msgEncoding},
	{ErrTooManyJobs, msgBusy},
	{ErrJobNotFound, msgJobNotFound},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgTimeout},
	{content.ErrNotFound, msgPageNotFound},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is the fallback for errors that carry no sentinel, such as
// driver errors. Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{"invalid request", msgInvalidRequest},
	{"file too large", msgFileTooLarge},
	{"invalid csv", UserMessage{
		Message: "The file has no header row",
		Action:  "Make sure the first line lists the column names",
		Code:    "FILE002",
	}},
	{"encoding error", msgEncoding},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file to upload",
		Code:    "FILE004",
	}},
	{"duplicate key", UserMessage{
		Message: "A page with this slug already exists",
		Action:  "Use a different slug column value",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "A page with this slug already exists",
		Action:  "Use a different slug column value",
		Code:    "DB001",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to reach the database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
	{"connection reset", UserMessage{
		Message: "Unable to reach the database",
		Action:  "Please try again in a few moments",
		Code:    "DB002",
	}},
	{"timeout", msgTimeout},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("load: %w", generate.ErrTemplateNotFound))
//	// msg.Code == "TPL001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, s := range errorSentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError returns "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
