/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package firewall drives the zoplog-firewall-ipset-add helper, which adds a
// destination IP to the kernel set backing a blocklist.  The helper is tried
// directly first (it normally carries the setuid bit); if that fails it is
// retried through sudo -n.  The kernel set has set semantics, so repeating an
// add is harmless.
package firewall

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/YiannisBourkelis/zoplog/zoplog_common/zlutil"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// HelperName is the ipset-add helper script.
	HelperName = "zoplog-firewall-ipset-add"

	// DefaultScriptsDir is where the installer places the helpers.
	DefaultScriptsDir = "/opt/zoplog/zoplog/scripts"

	sudoPath    = "/usr/bin/sudo"
	execTimeout = 3 * time.Second
)

// Effector applies one blocklist/IP pair to the kernel set.
type Effector interface {
	AddIP(ctx context.Context, blocklistID int64, ip string) error
	Name() string
}

// DirectExec runs the helper as this process's user.
type DirectExec struct {
	Helper string
}

// SudoExec runs the helper through non-interactive sudo.
type SudoExec struct {
	Helper string
}

func runHelper(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Errorf("%s timed out", name)
	}
	if err != nil {
		return errors.Wrapf(err, "%s failed: %s", name, string(out))
	}
	return nil
}

// AddIP invokes the helper directly.
func (e *DirectExec) AddIP(ctx context.Context, blocklistID int64, ip string) error {
	return runHelper(ctx, e.Helper, strconv.FormatInt(blocklistID, 10), ip)
}

// Name identifies the effector in logs.
func (e *DirectExec) Name() string {
	return "direct"
}

// AddIP invokes the helper via sudo -n, for hosts where the helper isn't
// setuid but the daemon's user has a sudoers entry.
func (e *SudoExec) AddIP(ctx context.Context, blocklistID int64, ip string) error {
	return runHelper(ctx, sudoPath, e.Helper,
		strconv.FormatInt(blocklistID, 10), ip)
}

// Name identifies the effector in logs.
func (e *SudoExec) Name() string {
	return "sudo"
}

// Chain tries each effector in order until one succeeds.  Persistent failure
// is logged and swallowed; enforcement is fire-and-forget with respect to
// the packet log write, which has already happened.
type Chain struct {
	effectors []Effector
	slog      *zap.SugaredLogger
}

// NewChain builds the direct-then-sudo effector chain for the helper found
// under scriptsDir, falling back to the default install location.
func NewChain(scriptsDir string, slog *zap.SugaredLogger) *Chain {
	helper := filepath.Join(scriptsDir, HelperName)
	if scriptsDir == "" || !zlutil.FileExists(helper) {
		helper = filepath.Join(DefaultScriptsDir, HelperName)
	}

	return &Chain{
		effectors: []Effector{
			&DirectExec{Helper: helper},
			&SudoExec{Helper: helper},
		},
		slog: slog,
	}
}

// AddIP adds ip to the kernel set for blocklistID.  Each effector gets its
// own timeout; the first success wins.
func (c *Chain) AddIP(ctx context.Context, blocklistID int64, ip string) {
	var firstErr error

	for _, e := range c.effectors {
		err := e.AddIP(ctx, blocklistID, ip)
		if err == nil {
			if firstErr != nil {
				c.slog.Debugf("ipset add blocklist=%d ip=%s succeeded via %s",
					blocklistID, ip, e.Name())
			}
			return
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	c.slog.Errorf("ipset add failed blocklist=%d ip=%s: %v",
		blocklistID, ip, firstErr)
}
