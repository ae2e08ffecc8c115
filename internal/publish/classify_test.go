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

package publish

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	for _, test := range []struct {
		name     string
		stderr   string
		expected Verdict
	}{
		{
			"already exists sentinel",
			`error: crate version 1.0.0 already exists on crates.io index`,
			Verdict{Class: AlreadyPublished},
		},
		{
			"sentinel wins over status code",
			`error: 500 Internal Server Error: already exists on crates.io index`,
			Verdict{Class: AlreadyPublished},
		},
		{
			"missing version sentinel",
			`error: all dependencies must have a version requirement specified when publishing.`,
			Verdict{Class: Fatal},
		},
		{
			"rate limited",
			`error: failed to publish: the remote server responded with an error (status 429 Too Many Requests): burst limit`,
			Verdict{Class: Retryable, Code: 429},
		},
		{
			"server error",
			`error: status 500 Internal Server Error`,
			Verdict{Class: Retryable, Code: 500},
		},
		{
			"redirect",
			`error: 307 Temporary Redirect`,
			Verdict{Class: Retryable, Code: 307},
		},
		{
			"not found is retryable",
			`error: 404 Not Found`,
			Verdict{Class: Retryable, Code: 404},
		},
		{
			"conflict is retryable",
			`error: 409 Conflict`,
			Verdict{Class: Retryable, Code: 409},
		},
		{
			"unprocessable is retryable",
			`error: 422 Unprocessable Entity`,
			Verdict{Class: Retryable, Code: 422},
		},
		{
			"forbidden is fatal",
			`error: 403 Forbidden: crate ownership`,
			Verdict{Class: Fatal, Code: 403},
		},
		{
			"unauthorized is fatal",
			`error: 401 Unauthorized`,
			Verdict{Class: Fatal, Code: 401},
		},
		{
			"bad request is fatal",
			`error: 400 Bad Request`,
			Verdict{Class: Fatal, Code: 400},
		},
		{
			"code without reason phrase does not match",
			`error: exit status 429`,
			Verdict{Class: Unknown},
		},
		{
			"no code",
			`error: something went wrong`,
			Verdict{Class: Unknown},
		},
		{
			"empty",
			``,
			Verdict{Class: Unknown},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.expected, Classify(test.stderr)); diff != "" {
				t.Errorf("mismatch (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	const stderr = `error: 429 Too Many Requests`
	first := Classify(stderr)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Classify(stderr)); diff != "" {
			t.Fatalf("classification changed between calls (-want, +got):\n%s", diff)
		}
	}
}
