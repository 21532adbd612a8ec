package utils

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Request limits in bytes.
const (
	MaxJSONSize  = 4 << 20 // request body
	MaxQuerySize = 4 << 10 // quicksearch expression
)

// Command template limits.
const (
	MaxTemplateLength = 16 << 10
	MaxArgCount       = 256
)

// TokenPattern matches background job tokens.
var TokenPattern = regexp.MustCompile(`^[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}$`)

// Errors returned by ReadJSON.
var (
	ErrBodyTooLarge = errors.New("body too large")
	ErrInvalidJSON  = errors.New("invalid JSON")
)

// ReadJSON decodes at most limit bytes of JSON from r into v. Longer input
// fails with ErrBodyTooLarge without being parsed.
func ReadJSON(r io.Reader, limit int64, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > limit {
		return fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	if !sonic.Valid(data) {
		return ErrInvalidJSON
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateToken validates a background job token
func ValidateToken(token string) error {
	if !TokenPattern.MatchString(token) {
		return fmt.Errorf("invalid token %q", token)
	}
	return nil
}

// ValidateCommand validates a command template and its argument count
func ValidateCommand(template string, argCount int) error {
	if err := ValidateString(template, "command", 1, MaxTemplateLength, true); err != nil {
		return err
	}
	if argCount > MaxArgCount {
		return fmt.Errorf("command has %d arguments, maximum is %d", argCount, MaxArgCount)
	}
	return nil
}

// ValidateQuery validates a quicksearch expression
func ValidateQuery(query string) error {
	return ValidateString(query, "query", 0, MaxQuerySize, false)
}
