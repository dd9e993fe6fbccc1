// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the railclerk YAML configuration.
//
// Resolution order: built-in defaults, then the YAML file, then
// ${VAR} / ${VAR:-default} expansion against the process environment.
// A .env file beside the config (or named explicitly) is loaded into
// the environment first, which is where account credentials belong:
//
//	account:
//	  username: ${RAILCLERK_USERNAME}
//	  password: ${RAILCLERK_PASSWORD}
//
// Command-line flags override the loaded values in cmd/railclerk.
package config
