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

var schema = `
{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"definitions": {
		"address":	{"anyOf": [{"type": "integer", "minimum": 0}, {"type": "string", "pattern": "^(0[xX])?[0-9a-fA-F]+$"}]},
		"action":	{"anyOf": [{"type": "integer", "minimum": 0, "maximum": 31}, {"type": "string", "pattern": "^(?i)(continue|block|stealth|notify|inspect)([|,](continue|block|stealth|notify|inspect))*$"}]},
		"duration":	{"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"}
	},

	"type": "object",
	"properties": {
		"config-file":	{"type": "string"},
		"device": {
			"type": "object",
			"properties": {
				"path":			{"type": "string", "minLength": 1},
				"open-timeout":	{"$ref": "#/definitions/duration"},
				"service": {
					"type": "object",
					"properties": {
						"name":			{"type": "string", "minLength": 1},
						"binary":		{"type": "string"},
						"auto-start":	{"type": "boolean"}
					},
					"additionalProperties": false
				}
			},
			"additionalProperties": false
		},
		"partition": {
			"type": "object",
			"properties": {
				"intercept-timeout":	{"$ref": "#/definitions/duration"},
				"default-action":		{"$ref": "#/definitions/action"},
				"driver-version":		{"type": "string"},
				"sink-size":			{"type": "integer", "minimum": 1},
				"callback": {
					"type": "object",
					"properties": {
						"action":	{"$ref": "#/definitions/action"},
						"rate":		{"anyOf": [{"type": "number", "minimum": 0}, {"type": "string", "pattern": "^[0-9.]+$"}]},
						"burst":	{"type": "integer", "minimum": 0}
					},
					"additionalProperties": false
				}
			},
			"additionalProperties": false
		},
		"guards": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name":		{"type": "string", "minLength": 1},
					"enabled":	{"type": "boolean"},
					"action":	{"$ref": "#/definitions/action"},
					"filter": {
						"type": "array",
						"maxItems": 16,
						"items": {
							"type": "object",
							"properties": {
								"field":	{"type": "string", "enum": ["ps.pid", "ps.ppid", "ps.name", "ps.object"]},
								"op":		{"type": "string"},
								"value":	{"type": ["string", "integer"]}
							},
							"required": ["field", "op", "value"],
							"additionalProperties": false
						}
					},
					"regions": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"base":		{"$ref": "#/definitions/address"},
								"limit":	{"$ref": "#/definitions/address"},
								"driver":	{"type": "string"},
								"access":	{"type": "string", "pattern": "^[rwxRWX-]{1,3}$"},
								"action":	{"$ref": "#/definitions/action"},
								"disabled":	{"type": "boolean"}
							},
							"required": ["access"],
							"additionalProperties": false
						}
					},
					"patches": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"address":	{"$ref": "#/definitions/address"},
								"export":	{"type": "string"},
								"offset":	{"$ref": "#/definitions/address"},
								"code":		{"type": "string", "minLength": 2},
								"action":	{"$ref": "#/definitions/action"},
								"disabled":	{"type": "boolean"}
							},
							"required": ["code"],
							"additionalProperties": false
						}
					}
				},
				"required": ["name"],
				"additionalProperties": false
			}
		},
		"offsets": {
			"type": "object",
			"additionalProperties": {"type": "integer", "minimum": 0, "maximum": 65535}
		},
		"journal": {
			"type": "object",
			"properties": {
				"enabled":	{"type": "boolean"},
				"path":		{"type": "string"},
				"max-rows":	{"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		},
		"api": {
			"type": "object",
			"properties": {
				"transport":	{"type": "string", "minLength": 3},
				"timeout":		{"$ref": "#/definitions/duration"}
			},
			"additionalProperties": false
		},
		"logging": {
			"type": "object",
			"properties": {
				"level":		{"type": "string", "enum": ["debug", "info", "warn", "warning", "error", "fatal", "panic", "trace", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL", "PANIC", "TRACE"]},
				"formatter":	{"type": "string", "enum": ["json", "text"]},
				"path":			{"type": "string"},
				"stdout":		{"type": "boolean"},
				"rotate": {
					"type": "object",
					"properties": {
						"max-size":		{"type": "integer", "minimum": 1},
						"max-backups":	{"type": "integer", "minimum": 0},
						"max-age":		{"type": "integer", "minimum": 0},
						"compress":		{"type": "boolean"}
					},
					"additionalProperties": false
				}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}
`
