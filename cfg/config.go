// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully decoded configuration for a fusebox mount, populated
// from CLI flags and/or a YAML config file via Viper.
type Config struct {
	Source     ResolvedPath `yaml:"source"`
	Mountpoint ResolvedPath `yaml:"mountpoint"`

	ControllerName string `yaml:"controller-name"`

	SecurityModel  SecurityModel `yaml:"security-model"`
	AuditorEnabled bool          `yaml:"auditor-enabled"`
	SeedRulesFile  string        `yaml:"seed-rules-file"`

	AccessLogBasename string `yaml:"access-log-basename"`

	Debug   DebugConfig   `yaml:"debug"`
	Logging LoggingConfig `yaml:"logging"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
	LogMutex                 bool `yaml:"log-mutex"`
}

type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"`
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("controller-name", "", DefaultControllerName, "Basename of the pseudo control directory exposed at the source root.")
	if err = viper.BindPFlag("controller-name", flagSet.Lookup("controller-name")); err != nil {
		return err
	}

	flagSet.StringP("security-model", "", string(Whitelist), "ACL security model: whitelist or blacklist.")
	if err = viper.BindPFlag("security-model", flagSet.Lookup("security-model")); err != nil {
		return err
	}

	flagSet.BoolP("auditor-enabled", "", false, "Enable ACL enforcement at startup.")
	if err = viper.BindPFlag("auditor-enabled", flagSet.Lookup("auditor-enabled")); err != nil {
		return err
	}

	flagSet.StringP("seed-rules-file", "", "", "Path to a YAML file of ACL rules applied before the first request.")
	if err = viper.BindPFlag("seed-rules-file", flagSet.Lookup("seed-rules-file")); err != nil {
		return err
	}

	flagSet.StringP("access-log-basename", "", "", "When set, enables export of .r.txt/.w.txt/.rw.txt access logs on unmount.")
	if err = viper.BindPFlag("access-log-basename", flagSet.Lookup("access-log-basename")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Has no effect: no mutex hold-time logging is performed.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Logging format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to the log file. Empty means stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	return nil
}
