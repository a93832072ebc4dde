// Copyright 2023 Google Inc. All Rights Reserved.
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

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/fuseboxfs/fusebox/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = `^time="[0-9/: .]{26}" severity=TRACE message="www.traceExample.com"`
	textInfoString  = `^time="[0-9/: .]{26}" severity=INFO message="www.infoExample.com"`
	textErrorString = `^time="[0-9/: .]{26}" severity=ERROR message="www.errorExample.com"`

	jsonInfoString  = `^{"timestamp":{"seconds":\d{10},"nanos":\d{1,9}},"severity":"INFO","message":"www.infoExample.com"}`
	jsonErrorString = `^{"timestamp":{"seconds":\d{10},"nanos":\d{1,9}},"severity":"ERROR","message":"www.errorExample.com"}`
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func redirect(buf *bytes.Buffer, format string, level slog.Level) {
	lv := new(slog.LevelVar)
	lv.Set(level)
	f := &loggerFactory{level: lv, format: format, writer: buf}
	defaultLogger = slog.New(f.handler(buf, ""))
}

func (t *LoggerTest) TestTextFormat_InfoAndAboveOnly() {
	var buf bytes.Buffer
	redirect(&buf, "text", slog.LevelInfo)

	Tracef("www.traceExample.com")
	assert.Empty(t.T(), buf.String())

	Infof("www.infoExample.com")
	assert.Regexp(t.T(), regexp.MustCompile(textInfoString), buf.String())
	buf.Reset()

	Errorf("www.errorExample.com")
	assert.Regexp(t.T(), regexp.MustCompile(textErrorString), buf.String())
}

func (t *LoggerTest) TestTextFormat_TraceLevelEmitsEverything() {
	var buf bytes.Buffer
	redirect(&buf, "text", LevelTrace)

	Tracef("www.traceExample.com")
	assert.Regexp(t.T(), regexp.MustCompile(textTraceString), buf.String())
}

func (t *LoggerTest) TestJSONFormat() {
	var buf bytes.Buffer
	redirect(&buf, "json", slog.LevelInfo)

	Infof("www.infoExample.com")
	assert.Regexp(t.T(), regexp.MustCompile(jsonInfoString), buf.String())
	buf.Reset()

	Errorf("www.errorExample.com")
	assert.Regexp(t.T(), regexp.MustCompile(jsonErrorString), buf.String())
}

func (t *LoggerTest) TestInit_SeverityGating() {
	err := Init(cfg.LoggingConfig{Severity: cfg.OffLogSeverity, Format: "text"})
	assert.NoError(t.T(), err)

	var buf bytes.Buffer
	defaultFactory.writer = &buf
	defaultLogger = slog.New(defaultFactory.handler(&buf, ""))

	Errorf("should be suppressed")
	assert.Empty(t.T(), buf.String())
}
