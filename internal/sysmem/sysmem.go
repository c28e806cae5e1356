/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package sysmem implements the memory pressure probe (C10): a cheap,
// platform-specific check of available system memory that gates whether
// the session handler may insert into the cache, without ever blocking a
// response on that decision.
package sysmem

// DefaultThresholdBytes is the available-memory floor below which
// Available reports false.
const DefaultThresholdBytes = 50 * 1024 * 1024

// Available reports whether the system has at least threshold bytes of
// available memory. On platforms where the probe cannot run, it returns
// true unconditionally, per spec.md §4.9.
func Available(threshold int64) bool {
	got, ok := available()
	if !ok {
		return true
	}
	return got >= threshold
}
