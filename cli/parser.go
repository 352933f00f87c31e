/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package cli parses and validates command-line input and formats command
// output.
package cli

import (
	"fmt"
	"strings"

	"github.com/cowdogmoo/containmint/engine"
)

// ParseKeyValue splits a key=value string. Surrounding spaces are trimmed,
// the value may contain further '=' characters and may be empty.
func ParseKeyValue(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("%q is not in key=value format", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("%q has an empty key", s)
	}
	return key, strings.TrimSpace(value), nil
}

// ValidateKeyValueFormat reports whether s parses as key=value.
func ValidateKeyValueFormat(s string) bool {
	_, _, err := ParseKeyValue(s)
	return err == nil
}

// ParseOrderedArgs parses key=value pairs keeping the order they were given
// in. A repeated key takes the last value but keeps the position of its
// first occurrence.
func ParseOrderedArgs(pairs []string) ([]engine.BuildArg, error) {
	args := make([]engine.BuildArg, 0, len(pairs))
	index := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		key, value, err := ParseKeyValue(pair)
		if err != nil {
			return nil, err
		}
		if i, ok := index[key]; ok {
			args[i].Value = value
			continue
		}
		index[key] = len(args)
		args = append(args, engine.BuildArg{Key: key, Value: value})
	}
	return args, nil
}

// ParseKeyValuePairs parses pairs into a map. Later keys overwrite earlier
// ones.
func ParseKeyValuePairs(pairs []string) (map[string]string, error) {
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, err := ParseKeyValue(pair)
		if err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, nil
}
