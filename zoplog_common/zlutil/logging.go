/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package zlutil

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ThrottledLogger is a wrapper around a zap sugared logger, which can be used
// to limit the rate at which redundant messages are issued.
type ThrottledLogger struct {
	slog      *zap.SugaredLogger
	next      time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	curDelay  time.Duration
}

var (
	atomicLevel = zap.NewAtomicLevel()
	daemonName  string
	tloggers    = make(map[string]*ThrottledLogger)
)

// Clear resets the logger's timeouts to their base levels.
func (t *ThrottledLogger) Clear() {
	t.next = time.Now()
	t.curDelay = t.baseDelay
}

func (t *ThrottledLogger) ready() bool {
	var rval bool

	if now := time.Now(); now.After(t.next) {
		t.next = now.Add(t.curDelay)
		t.curDelay *= 2
		if t.curDelay > t.maxDelay {
			t.curDelay = t.maxDelay
		}

		rval = true
	}

	return rval
}

// Errorf issues an ERROR message
func (t *ThrottledLogger) Errorf(fmt string, a ...interface{}) {
	if t.ready() {
		t.slog.Errorf(fmt, a...)
	}
}

// Warnf issues a WARN message
func (t *ThrottledLogger) Warnf(fmt string, a ...interface{}) {
	if t.ready() {
		t.slog.Warnf(fmt, a...)
	}
}

// GetThrottledLogger returns a throttled logger, which is persistent and unique
// to the location from which the call was issued.  On the first invocation from
// that line, a new logger will be allocated.  On subsequent invocations, that
// same logger will be returned.
func GetThrottledLogger(slog *zap.SugaredLogger,
	start, max time.Duration) *ThrottledLogger {

	var key string
	if _, file, line, ok := runtime.Caller(1); ok {
		key = file + ":" + strconv.Itoa(line)
	} else {
		key = "unknown"
	}

	t, ok := tloggers[key]
	if !ok {
		log := slog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
		t = &ThrottledLogger{
			slog:      log,
			next:      time.Now(),
			baseDelay: start,
			curDelay:  start,
			maxDelay:  max,
		}
		tloggers[key] = t
	}

	return t
}

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000"))
}

// Annotate each log message with the daemon and file that generated it.  If the
// file comes from a different package than the daemon, include the file's
// directory as well.
func zapCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	dir, fileName := filepath.Split(caller.File)
	dir = filepath.Base(dir)
	if dir != daemonName {
		// The structure of our source tree is such that every daemon's
		// files are in a directory with the same name as the daemon.
		// If the directory name doesn't match the daemon, include the
		// directory in the log message.
		fileName = filepath.Join(dir, fileName)
	}

	enc.AppendString(fmt.Sprintf("%s:%s:%d", daemonName, fileName,
		caller.Line))
}

// LogSetLevel adjusts the log level as the daemon runs.  It understands both
// the zap level names and the zoplog.conf log_level values, where ALL is the
// most verbose setting we have.
func LogSetLevel(level string) error {
	var newLevel zapcore.Level

	switch strings.ToUpper(level) {
	case "ALL", "DEBUG":
		newLevel = zapcore.DebugLevel
	case "INFO", "":
		newLevel = zapcore.InfoLevel
	default:
		if err := (&newLevel).UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}
	atomicLevel.SetLevel(newLevel)
	return nil
}


// NewLogger returns a 'sugared' zap logger.  Each logged line will include a
// timestamp, the log level, and enough context to track down the source of the
// message.
// e.g.:
//     2025/06/15 14:35:44.123 INFO    zoplog.packetd:capture.go:298   capturing on br-zoplog, filter "tcp or udp port 53 or udp port 443"
func NewLogger(name string) *zap.SugaredLogger {
	daemonName = name

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = atomicLevel
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapTimeEncoder
	zapConfig.EncoderConfig.EncodeCaller = zapCallerEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		log.Panicf("can't zap: %s", err)
	}

	_ = zap.RedirectStdLog(logger)

	return logger.Sugar()
}
