// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package vm

import "math/big"

// DefaultExponent is the fixed RSA-like public exponent every identified
// build uses, per spec.md §4.1/§6.
const DefaultExponent = 65537

// VMKey is the per-build key material ResourceLocator extracts (spec.md
// §3, §6): a modulus and exponent pair plus the session key bytes the
// modulus is built from.
type VMKey struct {
	Modulus    *big.Int
	Exponent   *big.Int
	SessionKey []byte
}

// compositeModulus builds the RSA-like modulus spec.md §6 describes:
// bigint_from_big_endian(session_key ++ base64_decode(modulus_string)).
func compositeModulus(sessionKey, modulusBytes []byte) *big.Int {
	buf := make([]byte, 0, len(sessionKey)+len(modulusBytes))
	buf = append(buf, sessionKey...)
	buf = append(buf, modulusBytes...)
	return new(big.Int).SetBytes(buf)
}
