// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package publish implements the publish-attempt engine and the
// bounded-concurrency topological scheduler that drives it.
package publish

import (
	"fmt"
	"net/http"
	"strings"
)

// Class is the classifier's verdict for a failed `cargo publish` attempt.
type Class int

const (
	// Unknown means no HTTP status code substring matched the stderr text.
	Unknown Class = iota
	// Retryable means the failure is transient and should be retried after
	// a backoff.
	Retryable
	// Fatal means the failure will not resolve with retries.
	Fatal
	// AlreadyPublished is a classifier bypass: treat as success.
	AlreadyPublished
)

func (c Class) String() string {
	switch c {
	case Unknown:
		return "Unknown"
	case Retryable:
		return "Retryable"
	case Fatal:
		return "Fatal"
	case AlreadyPublished:
		return "AlreadyPublished"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Verdict is the classifier's result, carrying the matched status code
// when one was found.
type Verdict struct {
	Class Class
	Code  int // zero when Class is Unknown or AlreadyPublished
}

// retryableCodes are the non-3xx/5xx status codes that still indicate a
// transient registry condition.
var retryableCodes = map[int]struct{}{
	404: {}, 408: {}, 409: {}, 410: {}, 412: {}, 416: {}, 417: {},
	421: {}, 422: {}, 423: {}, 424: {}, 425: {}, 426: {}, 428: {},
	429: {}, 451: {},
}

const (
	alreadyExistsSentinel       = "already exists on crates.io index"
	missingVersionFatalSentinel = "all dependencies must have a version requirement specified when publishing."
)

// Classify maps the combined stderr text of a failed `cargo publish` to a
// Verdict. The two textual sentinels are checked first and take
// priority over any HTTP status-code match.
func Classify(stderr string) Verdict {
	if strings.Contains(stderr, alreadyExistsSentinel) {
		return Verdict{Class: AlreadyPublished}
	}
	if strings.Contains(stderr, missingVersionFatalSentinel) {
		return Verdict{Class: Fatal}
	}

	for code := 100; code <= 599; code++ {
		reason := http.StatusText(code)
		if reason == "" {
			continue
		}
		needle := fmt.Sprintf("%d %s", code, reason)
		if strings.Contains(stderr, needle) {
			if isRetryable(code) {
				return Verdict{Class: Retryable, Code: code}
			}
			return Verdict{Class: Fatal, Code: code}
		}
	}

	return Verdict{Class: Unknown}
}

func isRetryable(code int) bool {
	if code >= 300 && code < 400 {
		return true
	}
	if code >= 500 && code < 600 {
		return true
	}
	_, ok := retryableCodes[code]
	return ok
}
