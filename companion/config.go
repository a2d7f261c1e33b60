// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"errors"
	"time"
)

// defines the companion protocol configuration range
const (
	// solicited response wait, range [100ms, 60s] default 5s
	ResponseTimeoutMin = 100 * time.Millisecond
	ResponseTimeoutMax = 60 * time.Second

	// margin added to the radio's estimated delivery timeout, range [0, 30]s default 3s
	AckSafetyMarginMax = 30 * time.Second

	// direct transmit attempts before the flood fallback, range [1, 5] default 3
	DirectAttemptsMin = 1
	DirectAttemptsMax = 5

	// flood transmit attempts after the fallback, range [0, 5] default 2
	FloodAttemptsMax = 5

	// retry backoff, doubling from the initial value up to the cap
	RetryBackoffInitialMin = 100 * time.Millisecond
	RetryBackoffMaxMax     = 5 * time.Minute

	// inbound queue poll, range [1s, 1h] default 30s
	SyncPollIntervalMin = 1 * time.Second
	SyncPollIntervalMax = 1 * time.Hour

	// contact stream hard cap, range [1, 1000] default 100
	ContactSyncLimitMax = 1000
)

// Config defines the protocol timing and retry parameters. The default
// is applied for each unspecified value.
type Config struct {
	// The maximum wait for the solicited response to a command.
	// range [100ms, 60s], default 5s.
	ResponseTimeout time.Duration

	// Added to the est_timeout_ms the radio returns before a missing
	// delivery confirmation counts as a failed attempt.
	// range [0, 30]s, default 3s.
	AckSafetyMargin time.Duration

	// Transmit attempts along the known direct route before the
	// engine resets the path and falls back to flood routing.
	// range [1, 5], default 3.
	DirectAttempts int

	// Transmit attempts in flood mode after the fallback.
	// range [0, 5], default 2.
	FloodAttempts int

	// First retry delay; doubles per attempt up to RetryBackoffMax.
	// default 1s.
	RetryBackoffInitial time.Duration

	// Retry delay cap. default 30s.
	RetryBackoffMax time.Duration

	// Inbound queue poll period while no PushMsgWaiting arrives.
	// range [1s, 1h], default 30s.
	SyncPollInterval time.Duration

	// Hard cap on contact frames accepted in one sync, protecting
	// against a stuck firmware stream. range [1, 1000], default 100.
	ContactSyncLimit int
}

// Valid applies the default for each unspecified value.
func (sf *Config) Valid() error {
	if sf == nil {
		return errors.New("invalid pointer")
	}

	if sf.ResponseTimeout == 0 {
		sf.ResponseTimeout = 5 * time.Second
	} else if sf.ResponseTimeout < ResponseTimeoutMin || sf.ResponseTimeout > ResponseTimeoutMax {
		return errors.New("ResponseTimeout not in [100ms, 60s]")
	}

	if sf.AckSafetyMargin == 0 {
		sf.AckSafetyMargin = 3 * time.Second
	} else if sf.AckSafetyMargin < 0 || sf.AckSafetyMargin > AckSafetyMarginMax {
		return errors.New("AckSafetyMargin not in [0, 30]s")
	}

	if sf.DirectAttempts == 0 {
		sf.DirectAttempts = 3
	} else if sf.DirectAttempts < DirectAttemptsMin || sf.DirectAttempts > DirectAttemptsMax {
		return errors.New("DirectAttempts not in [1, 5]")
	}

	if sf.FloodAttempts == 0 {
		sf.FloodAttempts = 2
	} else if sf.FloodAttempts < 0 || sf.FloodAttempts > FloodAttemptsMax {
		return errors.New("FloodAttempts not in [0, 5]")
	}

	if sf.RetryBackoffInitial == 0 {
		sf.RetryBackoffInitial = 1 * time.Second
	} else if sf.RetryBackoffInitial < RetryBackoffInitialMin {
		return errors.New("RetryBackoffInitial below 100ms")
	}

	if sf.RetryBackoffMax == 0 {
		sf.RetryBackoffMax = 30 * time.Second
	} else if sf.RetryBackoffMax < sf.RetryBackoffInitial || sf.RetryBackoffMax > RetryBackoffMaxMax {
		return errors.New("RetryBackoffMax not in [RetryBackoffInitial, 5m]")
	}

	if sf.SyncPollInterval == 0 {
		sf.SyncPollInterval = 30 * time.Second
	} else if sf.SyncPollInterval < SyncPollIntervalMin || sf.SyncPollInterval > SyncPollIntervalMax {
		return errors.New("SyncPollInterval not in [1s, 1h]")
	}

	if sf.ContactSyncLimit == 0 {
		sf.ContactSyncLimit = 100
	} else if sf.ContactSyncLimit < 1 || sf.ContactSyncLimit > ContactSyncLimitMax {
		return errors.New("ContactSyncLimit not in [1, 1000]")
	}

	return nil
}

// DefaultConfig default config
func DefaultConfig() Config {
	return Config{
		5 * time.Second,
		3 * time.Second,
		3,
		2,
		1 * time.Second,
		30 * time.Second,
		30 * time.Second,
		100,
	}
}
