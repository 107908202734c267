// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ueficore

import (
	"bytes"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/costinm/goefi/pkg/proto"
)

// encoderConfig is a console encoder without timestamps: the firmware clock
// is not trusted before the OS sets it.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
}

// NewConsoleLogger returns a logger writing to a firmware text console.
// The console turns line feeds into CRLF. Pass a zap.AtomicLevel to change
// the level once configuration is known.
func NewConsoleLogger(out *proto.TextOutput, level zapcore.LevelEnabler) *zap.Logger {
	return newLogger(out, level)
}

// NewLogger returns a logger writing lines terminated by CRLF to w, for
// byte oriented outputs such as a serial port.
func NewLogger(w io.Writer, level zapcore.LevelEnabler) *zap.Logger {
	return newLogger(crlfWriter{w}, level)
}

func newLogger(w io.Writer, level zapcore.LevelEnabler) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core)
}

// ParseLevel parses a level name, defaulting to info for an empty name.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(name)
}

type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(b []byte) (int, error) {
	if bytes.IndexByte(b, '\n') < 0 {
		return c.w.Write(b)
	}
	if _, err := c.w.Write(bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(b), nil
}
