// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidAppliesDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Valid())
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigValidRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"response timeout too long", Config{ResponseTimeout: 2 * time.Minute}},
		{"too many direct attempts", Config{DirectAttempts: 9}},
		{"too many flood attempts", Config{FloodAttempts: 9}},
		{"backoff cap below initial", Config{RetryBackoffInitial: 10 * time.Second, RetryBackoffMax: 1 * time.Second}},
		{"poll interval too short", Config{SyncPollInterval: time.Millisecond}},
		{"sync limit too large", Config{ContactSyncLimit: 100000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Valid())
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Valid())
}
