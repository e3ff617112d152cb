// Package auth implements the client-side authentication primitives named
// by AuthenticationMD5Password and AuthenticationCleartextPassword.
package auth

import (
	"crypto/md5"
	"encoding/hex"
)

// MD5Password computes the hash a client sends in response to
// AuthenticationMD5Password: "md5" + md5hex(md5hex(password+user) + salt).
func MD5Password(user, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])

	outer := md5.New()
	outer.Write([]byte(innerHex))
	outer.Write(salt[:])

	return "md5" + hex.EncodeToString(outer.Sum(nil))
}
