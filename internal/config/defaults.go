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

package config

const (
	defaultLogLevel = "INFO"

	defaultListenPort    = 3128
	defaultListenAddress = "0.0.0.0"

	defaultMaxConnections  = 100
	defaultShutdownGraceMS = 10000

	defaultCacheCompression     = true
	defaultDisableHeuristicTTL  = false
	defaultMemoryThresholdBytes = 50 * 1024 * 1024

	defaultTracerImplementation = "stdout"
)
