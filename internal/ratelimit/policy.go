// DanmuHub - Danmaku Aggregation and Ingestion Service
// Copyright 2026 quzard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quzard/danmu-hub

// Package ratelimit enforces the signed provider rate-limit policy. The
// policy file is XOR-obfuscated JSON whose SM3 digest is signed with SM2;
// any load or verification failure puts the limiter into safe-block,
// where every check fails with a one-hour retry-after.
package ratelimit

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emmansun/gmsm/sm2"
	"github.com/emmansun/gmsm/smx509"
	"github.com/goccy/go-json"
)

// Policy file names inside the policy directory.
const (
	PolicyFileName    = "rate_limit.bin"
	SignatureFileName = "rate_limit.bin.sig"
	PublicKeyFileName = "public_key.pem"
)

// xorKey deobfuscates the policy blob. Obfuscation keeps casual editors
// out; tamper protection comes from the signature, not the XOR.
var xorKey = []byte("danmu-rate-policy")

// Policy is the decoded rate-limit policy.
type Policy struct {
	Enabled      bool   `json:"enabled"`
	GlobalLimit  int64  `json:"global_limit"`
	GlobalPeriod string `json:"global_period"` // second, minute, hour, day
}

// PeriodSeconds converts the policy period to seconds. Unknown periods
// fall back to an hour.
func (p Policy) PeriodSeconds() int64 {
	switch p.GlobalPeriod {
	case "second":
		return 1
	case "minute":
		return 60
	case "hour":
		return 3600
	case "day":
		return 86400
	default:
		return 3600
	}
}

// ErrPolicyVerification is returned when the policy files are missing,
// unreadable, or fail signature verification.
var ErrPolicyVerification = errors.New("rate limit policy verification failed")

// LoadPolicy reads and verifies the policy from dir. Every failure path
// returns ErrPolicyVerification (wrapped) so the caller enters safe-block
// without distinguishing causes to an attacker.
func LoadPolicy(dir string) (*Policy, error) {
	blob, err := os.ReadFile(filepath.Join(dir, PolicyFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: read policy: %v", ErrPolicyVerification, err)
	}
	sigB64, err := os.ReadFile(filepath.Join(dir, SignatureFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: read signature: %v", ErrPolicyVerification, err)
	}
	pubPEM, err := os.ReadFile(filepath.Join(dir, PublicKeyFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", ErrPolicyVerification, err)
	}

	pub, err := parseSM2PublicKey(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyVerification, err)
	}
	sig, err := base64.StdEncoding.DecodeString(string(trimSpace(sigB64)))
	if err != nil {
		return nil, fmt.Errorf("%w: decode signature: %v", ErrPolicyVerification, err)
	}

	// Signature covers the obfuscated blob: SM3 (with the default SM2
	// user id) inside the SM2 ASN.1 verification.
	if !sm2.VerifyASN1WithSM2(pub, nil, blob, sig) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrPolicyVerification)
	}

	plain := make([]byte, len(blob))
	for i, b := range blob {
		plain[i] = b ^ xorKey[i%len(xorKey)]
	}

	var p Policy
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("%w: decode policy: %v", ErrPolicyVerification, err)
	}
	return &p, nil
}

func parseSM2PublicKey(pemData []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block in public key file")
	}
	key, err := smx509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an EC key")
	}
	return pub, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}

// ObfuscatePolicy is the inverse of the blob deobfuscation, used by
// tooling and tests to produce policy files.
func ObfuscatePolicy(p Policy) ([]byte, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, len(plain))
	for i, b := range plain {
		blob[i] = b ^ xorKey[i%len(xorKey)]
	}
	return blob, nil
}

// WritePolicy obfuscates, signs and writes the three policy files into
// dir. Used by the policy tooling and tests.
func WritePolicy(dir string, p Policy, priv *sm2.PrivateKey) error {
	blob, err := ObfuscatePolicy(p)
	if err != nil {
		return err
	}
	sig, err := priv.Sign(rand.Reader, blob, sm2.DefaultSM2SignerOpts)
	if err != nil {
		return fmt.Errorf("sign policy: %w", err)
	}
	der, err := smx509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), blob, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, SignatureFileName), []byte(base64.StdEncoding.EncodeToString(sig)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, PublicKeyFileName), pubPEM, 0o644)
}
