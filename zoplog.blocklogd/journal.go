/*
 * Copyright 2025 ZopLog
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"bufio"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// journalReader tails kernel messages from the system journal by following
// a journalctl child: kernel transport, current boot, starting at the tail.
// The child is restarted with a short pause if it exits, so a journald
// rotation or restart doesn't kill the ingestor.
type journalReader struct {
	slog  *zap.SugaredLogger
	lines chan string

	sync.Mutex
	cmd  *exec.Cmd
	done bool
}

var journalArgs = []string{
	"--dmesg", "--boot", "--follow", "--lines=0", "--output=cat",
}

func newJournalReader(slog *zap.SugaredLogger) *journalReader {
	return &journalReader{
		slog:  slog,
		lines: make(chan string, 64),
	}
}

func (r *journalReader) tailOnce() error {
	cmd := exec.Command("journalctl", journalArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "journalctl stdout")
	}

	r.Lock()
	if r.done {
		r.Unlock()
		return nil
	}
	if err = cmd.Start(); err != nil {
		r.Unlock()
		return errors.Wrap(err, "starting journalctl")
	}
	r.cmd = cmd
	r.Unlock()

	r.slog.Infof("following kernel journal (journalctl %v)", journalArgs)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		r.lines <- scanner.Text()
	}

	err = scanner.Err()
	if waitErr := cmd.Wait(); err == nil {
		err = waitErr
	}

	r.Lock()
	r.cmd = nil
	stopped := r.done
	r.Unlock()

	if stopped {
		return nil
	}
	return errors.Wrap(err, "journalctl exited")
}

// run keeps a journalctl child alive until stop() is called.
func (r *journalReader) run() {
	for {
		r.Lock()
		stopped := r.done
		r.Unlock()
		if stopped {
			return
		}

		if err := r.tailOnce(); err != nil {
			r.slog.Warnf("journal tail: %v", err)
		}
		time.Sleep(time.Second)
	}
}

func (r *journalReader) stop() {
	r.Lock()
	r.done = true
	if r.cmd != nil && r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.Unlock()
}
