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

package spinner

import (
	"time"

	"github.com/briandowns/spinner"
)

// Run shows the spinner prefixed with the message while fn is running.
// The spinner is replaced by the final message once fn returns.
func Run(prefix string, fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Prefix = "> " + prefix + " "
	s.HideCursor = true
	s.FinalMSG = "> " + prefix + " done\n"
	s.Start()
	err := fn()
	if err != nil {
		s.FinalMSG = "> " + prefix + " failed\n"
	}
	s.Stop()
	return err
}
