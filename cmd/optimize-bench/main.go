/*
Copyright 2020 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// optimize-bench is a development aid for manually driving
// pkg/optimize.Optimize end to end against a fixed benchmark objective
// (a sphere function). It is not the "easy wrapper API" -- there are no
// experiment templates, no dashboard, no generated manifests -- just
// enough command-line plumbing to smoke-test the engine facade.
package main

import (
	"os"

	"github.com/thestormforge/optimize-engine/cmd/optimize-bench/cmd"
)

func main() {
	if err := cmd.NewBenchCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
