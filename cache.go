// Copyright 2025 Roman Atachiants
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package s3get

import (
	"github.com/kelindar/s3get/aws"
	"github.com/kelindar/s3get/transport"
)

// ClearCaches resets the process-wide DNS, region, credential and IMDS
// token caches shared by coexisting downloads. Intended for tests.
func ClearCaches() {
	transport.ClearDNSCache()
	aws.ClearCache()
}
