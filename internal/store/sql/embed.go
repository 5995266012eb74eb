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

package sql

import "embed"

// migrationFS embeds the schema migration files applied on Open, modeled
// on correlator-io/correlator's cmd/migrator embed pattern. Authoring new
// migration files is explicitly out of this module's scope (spec.md §1);
// this fixed set defines the schema from spec.md §6.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
