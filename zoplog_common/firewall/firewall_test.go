/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package firewall

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeHelper(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, HelperName)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestDirectExecSuccess(t *testing.T) {
	assert := require.New(t)

	out := filepath.Join(t.TempDir(), "args")
	helper := writeHelper(t, "#!/bin/sh\necho \"$1 $2\" > "+out+"\nexit 0\n")

	e := &DirectExec{Helper: helper}
	assert.NoError(e.AddIP(context.Background(), 7, "93.184.216.34"))

	recorded, err := os.ReadFile(out)
	assert.NoError(err)
	assert.Equal("7 93.184.216.34\n", string(recorded))
}

func TestDirectExecFailureCapturesOutput(t *testing.T) {
	assert := require.New(t)

	helper := writeHelper(t, "#!/bin/sh\necho 'no such set' >&2\nexit 1\n")

	e := &DirectExec{Helper: helper}
	err := e.AddIP(context.Background(), 7, "93.184.216.34")
	assert.Error(err)
	assert.Contains(err.Error(), "no such set")
}

func TestDirectExecMissingHelper(t *testing.T) {
	assert := require.New(t)

	e := &DirectExec{Helper: filepath.Join(t.TempDir(), HelperName)}
	assert.Error(e.AddIP(context.Background(), 1, "1.2.3.4"))
}

func TestChainFallsBackAndSwallows(t *testing.T) {
	// The first helper exits non-zero and the second does not exist, so the
	// chain exhausts both effectors.  AddIP must not panic or propagate.
	helper := writeHelper(t, "#!/bin/sh\nexit 1\n")
	c := &Chain{
		effectors: []Effector{
			&DirectExec{Helper: helper},
			&DirectExec{Helper: helper + "-missing"},
		},
		slog: zap.NewNop().Sugar(),
	}
	c.AddIP(context.Background(), 3, "10.0.0.1")
}

func TestChainFirstSuccessStops(t *testing.T) {
	assert := require.New(t)

	out := filepath.Join(t.TempDir(), "count")
	helper := writeHelper(t, "#!/bin/sh\necho run >> "+out+"\nexit 0\n")
	c := &Chain{
		effectors: []Effector{
			&DirectExec{Helper: helper},
			&DirectExec{Helper: helper},
		},
		slog: zap.NewNop().Sugar(),
	}
	c.AddIP(context.Background(), 3, "10.0.0.1")

	recorded, err := os.ReadFile(out)
	assert.NoError(err)
	assert.Equal("run\n", string(recorded))
}

func TestNewChainFallsBackToDefaultDir(t *testing.T) {
	assert := require.New(t)

	c := NewChain(t.TempDir(), zap.NewNop().Sugar())
	direct := c.effectors[0].(*DirectExec)
	assert.Equal(filepath.Join(DefaultScriptsDir, HelperName), direct.Helper)
}
