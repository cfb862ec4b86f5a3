/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package version holds the release information stamped at build time.
package version

import (
	"fmt"
	"io"
	"runtime"

	semver "github.com/hashicorp/go-version"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	version string
	commit  string
	date    string
)

// Set initializes the build information.
func Set(v, c, d string) { version, commit, date = v, c, d }

// Get returns the version string.
func Get() string {
	if IsDev() {
		return "dev"
	}
	return version
}

// IsDev determines if this is a dev version.
func IsDev() bool { return version == "0.0.0" || version == "" }

// Sem returns the semantic version of the build or nil for dev builds.
func Sem() *semver.Version {
	if IsDev() {
		return nil
	}
	v, err := semver.NewSemver(version)
	if err != nil {
		return nil
	}
	return v
}

// ProductToken returns a tag to be poked in User Agent headers.
func ProductToken() string { return fmt.Sprintf("kguard/%s", Get()) }

// Render writes the version table. The driver version is omitted when nil.
func Render(w io.Writer, driver *semver.Version) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendRow(table.Row{"Version", Get()})
	t.AppendRow(table.Row{"Commit", commit})
	t.AppendRow(table.Row{"Build date", date})
	if driver != nil {
		t.AppendRow(table.Row{"Driver", driver.String()})
	}

	t.AppendSeparator()

	t.AppendRow(table.Row{"Go compiler", runtime.Version()})

	t.Render()
}
