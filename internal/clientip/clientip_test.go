// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: July 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clientip

import (
	"net/http/httptest"
	"testing"
)

// TestResolve_PrecedenceChain verifies the documented header precedence:
// X-Forwarded-For (leftmost) beats X-Real-IP beats CF-Connecting-IP beats
// True-Client-IP beats the loopback fallback.
func TestResolve_PrecedenceChain(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if got := Resolve(req); got != fallback {
		t.Fatalf("expected fallback with no headers, got %q", got)
	}

	req.Header.Set("True-Client-IP", "4.4.4.4")
	if got := Resolve(req); got != "4.4.4.4" {
		t.Fatalf("expected True-Client-IP, got %q", got)
	}

	req.Header.Set("CF-Connecting-IP", "3.3.3.3")
	if got := Resolve(req); got != "3.3.3.3" {
		t.Fatalf("expected CF-Connecting-IP to outrank True-Client-IP, got %q", got)
	}

	req.Header.Set("X-Real-IP", "2.2.2.2")
	if got := Resolve(req); got != "2.2.2.2" {
		t.Fatalf("expected X-Real-IP to outrank CF-Connecting-IP, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "1.1.1.1, 9.9.9.9")
	if got := Resolve(req); got != "1.1.1.1" {
		t.Fatalf("expected leftmost X-Forwarded-For entry, got %q", got)
	}
}
