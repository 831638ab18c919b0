package model

import (
	"encoding/json"
	"strings"
)

// EncodeAnswers serializes an answer list for storage as a JSON array string.
func EncodeAnswers(answers []string) (string, error) {
	if answers == nil {
		answers = []string{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeAnswers restores a stored answer list. Rows written by older clients
// may hold a pipe-delimited string or a Python-style single-quoted list
// instead of JSON, so decoding falls back through those formats and resolves
// to an empty list when nothing matches. A read never fails on bad data.
func DecodeAnswers(raw string) []string {
	if raw == "" {
		return []string{}
	}

	var answers []string
	if err := json.Unmarshal([]byte(raw), &answers); err == nil {
		return answers
	}

	if strings.Contains(raw, "|") {
		return strings.Split(raw, "|")
	}

	normalized := strings.ReplaceAll(raw, "'", `"`)
	if err := json.Unmarshal([]byte(normalized), &answers); err == nil {
		return answers
	}

	return []string{}
}
