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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/fuseboxfs/fusebox/cfg"
	"github.com/fuseboxfs/fusebox/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	MountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "fusebox [flags] source mountpoint",
	Short: "Mount an access-audited pass-through view of a source directory",
	Long: `fusebox is a FUSE filesystem that re-exposes a source directory at a
mountpoint, auditing every operation against a live, reconfigurable ACL and
exposing a small pseudo control subtree for managing that ACL at runtime.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		source, mountpoint, err := populateArgs(args)
		if err != nil {
			return err
		}
		MountConfig.Source = cfg.ResolvedPath(source)
		MountConfig.Mountpoint = cfg.ResolvedPath(mountpoint)

		if err := cfg.ValidateConfig(&MountConfig); err != nil {
			return err
		}

		return mount(cmd.Context(), &MountConfig)
	},
}

func populateArgs(args []string) (source string, mountpoint string, err error) {
	if len(args) != 2 {
		err = fmt.Errorf(
			"%s takes exactly two arguments: source and mountpoint. Run `%s --help` for more info.",
			filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		return
	}

	source, err = filepath.Abs(args[0])
	if err != nil {
		err = fmt.Errorf("canonicalizing source: %w", err)
		return
	}

	mountpoint, err = filepath.Abs(args[1])
	if err != nil {
		err = fmt.Errorf("canonicalizing mountpoint: %w", err)
		return
	}

	return
}

// Execute runs the root command, recovering a top-level panic just long
// enough to append its stack trace to the crash dump before re-panicking
// so the process still exits non-zero with the usual Go crash behavior.
func Execute() {
	cw := NewCrashWriter()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(cw, "panic: %v\n\n%s", r, debug.Stack())
			logger.Errorf("fatal panic, crash dump written to %s", cw.fileName)
			panic(r)
		}
	}()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	MountConfig.Logging = cfg.GetDefaultLoggingConfig()

	decodeHook := viper.DecodeHook(cfg.DecodeHook())

	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig, decodeHook)
		return
	}

	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig, decodeHook)
}
