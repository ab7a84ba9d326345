// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"bufio"
	"embed"
	"fmt"
	"strings"
	"unicode"
)

//go:embed common_passwords.txt
var commonPasswordsFS embed.FS

var commonPasswords map[string]struct{}

func init() {
	commonPasswords = make(map[string]struct{})
	file, err := commonPasswordsFS.Open("common_passwords.txt")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		password := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if password != "" {
			commonPasswords[password] = struct{}{}
		}
	}
}

// PasswordValidator is the strength gate run before any hashing or
// persistence. It estimates guessability from structure, a list of common
// passwords and similarity to the user's own inputs.
type PasswordValidator struct {
	MinLength            int
	CheckCommonPasswords bool
	CheckUserSimilarity  bool
}

// DefaultPasswordValidator returns a validator with sensible defaults.
func DefaultPasswordValidator() *PasswordValidator {
	return &PasswordValidator{
		MinLength:            8,
		CheckCommonPasswords: true,
		CheckUserSimilarity:  true,
	}
}

// ValidationError represents a single password validation error.
type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// PasswordValidationError wraps multiple validation errors.
type PasswordValidationError struct {
	Errors []ValidationError
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return e.Errors[0].Message
}

// Messages returns all error messages.
func (e *PasswordValidationError) Messages() []string {
	messages := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		messages[i] = err.Message
	}
	return messages
}

// ValidationResult holds the estimated score and all validation errors.
// Score runs 0 (trivially guessable) to 4; a password passes only with no
// errors.
type ValidationResult struct {
	Valid  bool
	Score  int
	Errors []ValidationError
}

// Validate assesses a password. userInputs carry personal data (email, name
// fragments) so trivially personalized secrets score low even when they are
// structurally complex.
func (v *PasswordValidator) Validate(password string, userInputs ...string) ValidationResult {
	var errors []ValidationError

	if len(password) < v.MinLength {
		errors = append(errors, ValidationError{
			Code:    "min_length",
			Message: fmt.Sprintf("Password must be at least %d characters long.", v.MinLength),
		})
	}

	if isEntirelyNumeric(password) {
		errors = append(errors, ValidationError{
			Code:    "entirely_numeric",
			Message: "Password cannot be entirely numeric.",
		})
	}

	if v.CheckCommonPasswords && isCommonPassword(password) {
		errors = append(errors, ValidationError{
			Code:    "common_password",
			Message: "This password is too common. Please choose a more secure password.",
		})
	}

	if v.CheckUserSimilarity && len(userInputs) > 0 {
		if isSimilarToUserInputs(password, userInputs) {
			errors = append(errors, ValidationError{
				Code:    "too_similar",
				Message: "Password is too similar to your personal information.",
			})
		}
	}

	return ValidationResult{
		Valid:  len(errors) == 0,
		Score:  estimateScore(password, errors),
		Errors: errors,
	}
}

// estimateScore maps the gathered signals onto a 0-4 guessability scale.
// Any hard failure caps the score below the pass threshold.
func estimateScore(password string, errors []ValidationError) int {
	if len(errors) > 0 {
		if len(errors) > 1 {
			return 0
		}
		return 1
	}

	score := 2
	if len(password) >= 12 {
		score++
	}
	if characterClasses(password) >= 3 {
		score++
	}
	return score
}

func characterClasses(password string) int {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	classes := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			classes++
		}
	}
	return classes
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(password) > 0
}

func isCommonPassword(password string) bool {
	_, exists := commonPasswords[strings.ToLower(password)]
	return exists
}

func isSimilarToUserInputs(password string, inputs []string) bool {
	passwordLower := strings.ToLower(password)

	for _, input := range inputs {
		for _, fragment := range inputFragments(input) {
			if strings.Contains(passwordLower, fragment) || strings.Contains(fragment, passwordLower) {
				return true
			}

			if similarity(passwordLower, fragment) > 0.7 {
				return true
			}
		}
	}

	return false
}

// inputFragments expands a user input into comparable pieces. Email
// addresses also contribute their local part, so a password built from
// just the part before the @ still counts as personalized. Fragments
// shorter than 4 bytes are skipped to avoid false positives.
func inputFragments(input string) []string {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil
	}

	candidates := []string{input}
	if local, _, ok := strings.Cut(input, "@"); ok {
		candidates = append(candidates, local)
	}

	fragments := candidates[:0]
	for _, c := range candidates {
		if len(c) >= 4 {
			fragments = append(fragments, c)
		}
	}
	return fragments
}

func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	lcs := longestCommonSubsequence(a, b)
	maxLen := max(len(a), len(b))

	return float64(lcs) / float64(maxLen)
}

func longestCommonSubsequence(a, b string) int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	return dp[m][n]
}
