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

package config

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rabbitstack/kguard/pkg/policy"
)

func decode(input, output interface{}) error {
	var decoderConfig = &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           output,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			actionDecodeHook(),
			accessDecodeHook(),
			hexBytesDecodeHook(),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// actionDecodeHook parses action names such as block|notify.
func actionDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(policy.Action(0)) {
			return data, nil
		}
		a, ok := policy.ParseAction(data.(string))
		if !ok {
			return nil, fmt.Errorf("invalid action %q", data)
		}
		return a, nil
	}
}

// accessDecodeHook parses access masks in the rwx notation.
func accessDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(policy.Access(0)) {
			return data, nil
		}
		a, ok := policy.ParseAccess(data.(string))
		if !ok {
			return nil, fmt.Errorf("invalid access %q", data)
		}
		return a, nil
	}
}

// hexBytesDecodeHook decodes byte sequences written as hex strings.
// Spaces between bytes are ignored, e.g. "90 90 c3".
func hexBytesDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]byte(nil)) {
			return data, nil
		}
		s := strings.Join(strings.Fields(data.(string)), "")
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hex code: %v", err)
		}
		return b, nil
	}
}
