// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
)

// minMlockKB is the mlock budget the key holder needs: one locked key
// page plus memguard's guard and canary pages.
const minMlockKB = 64

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

func initSecureMemory() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
	})
}

// checkMlockLimit queries the kernel mlock limit. Errors and
// RLIM_INFINITY both report sufficient; only a known-small limit
// blocks secure allocation.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockKB, limitKB
}

// keyHolder keeps the token signing key in mlocked memory so it cannot
// be swapped to disk. When the system's mlock limit is too small the
// holder falls back to ordinary memory, but only when the operator has
// explicitly accepted that with INSECURE_MEMORY=true.
type keyHolder struct {
	buffer   *memguard.LockedBuffer
	insecure []byte
}

// newKeyHolder takes ownership of key; the caller's slice is wiped.
func newKeyHolder(key []byte, allowInsecure bool, log *logging.Logger) (*keyHolder, error) {
	initSecureMemory()

	if mlockSufficient {
		buf := memguard.NewBufferFromBytes(key)
		if buf == nil {
			return nil, fmt.Errorf("allocating locked buffer for signing key")
		}
		return &keyHolder{buffer: buf}, nil
	}

	if !allowInsecure {
		return nil, fmt.Errorf(
			"mlock limit insufficient for signing key custody: have %d KB, need %d KB. "+
				"Raise the limit or set INSECURE_MEMORY=true",
			mlockLimitKB, minMlockKB,
		)
	}

	log.Warn("SECURITY: signing key held in unlocked memory",
		"mlock_limit_kb", mlockLimitKB,
		"required_kb", minMlockKB,
		"env_override", "INSECURE_MEMORY=true",
	)
	cp := make([]byte, len(key))
	copy(cp, key)
	wipe(key)
	return &keyHolder{insecure: cp}, nil
}

// bytes exposes the key for signing and verification. The slice aliases
// holder-owned memory; callers must not retain or modify it.
func (h *keyHolder) bytes() []byte {
	if h.buffer != nil {
		return h.buffer.Bytes()
	}
	return h.insecure
}

// destroy wipes the key. The holder is unusable afterwards.
func (h *keyHolder) destroy() {
	if h.buffer != nil {
		h.buffer.Destroy()
		h.buffer = nil
	}
	wipe(h.insecure)
	h.insecure = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
