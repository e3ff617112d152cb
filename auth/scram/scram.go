// Package scram implements the client side of the SASL SCRAM-SHA-256
// exchange used by AuthenticationSASL / AuthenticationSASLContinue /
// AuthenticationSASLFinal.
//
// Unlike a raw socket-driven exchange, Client never touches a net.Conn: it
// only turns server challenges into client responses, leaving message
// framing and I/O to the caller.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Mechanism is the SASL mechanism name this package implements.
const Mechanism = "SCRAM-SHA-256"

// gs2Header is the GS2 header this client always sends: no channel
// binding, no authorization identity.
const gs2Header = "n,,"

// step tracks where in the exchange a Client is; methods must be called in
// this order and each may be called at most once.
type step int

const (
	stepNew step = iota
	stepInitialSent
	stepFinalSent
	stepDone
)

// Client drives one SCRAM-SHA-256 exchange for a single username/password.
// It is not safe for concurrent use and is single-use: create a new Client
// per authentication attempt.
type Client struct {
	user     string
	password string

	step step

	clientNonce     string
	clientFirstBare string
	authMessage     string
	saltedPassword  []byte
}

// NewClient creates a Client for the given credentials.
func NewClient(user, password string) *Client {
	return &Client{user: user, password: password}
}

// SupportsMechanism reports whether mechanisms (as advertised in an
// AuthenticationSASL message) includes SCRAM-SHA-256.
func SupportsMechanism(mechanisms []string) bool {
	for _, m := range mechanisms {
		if m == Mechanism {
			return true
		}
	}
	return false
}

// ParseMechanisms splits the NUL-separated, double-NUL-terminated mechanism
// list carried in an AuthenticationSASL payload (after its 4-byte subtype).
func ParseMechanisms(data []byte) []string {
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

// InitialResponse builds the client-first-message to send as a
// SASLInitialResponse. It must be called first, exactly once.
func (c *Client) InitialResponse() ([]byte, error) {
	if c.step != stepNew {
		return nil, fmt.Errorf("scram: InitialResponse called out of order")
	}

	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("scram: generating nonce: %w", err)
	}
	c.clientNonce = base64.StdEncoding.EncodeToString(nonceBytes)
	c.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeUsername(c.user), c.clientNonce)

	c.step = stepInitialSent
	return []byte(gs2Header + c.clientFirstBare), nil
}

// FinalResponse consumes the server-first-message (the AuthenticationSASLContinue
// payload) and returns the client-final-message to send as a SASLResponse.
// It must be called after InitialResponse, exactly once.
func (c *Client) FinalResponse(serverFirstMessage []byte) ([]byte, error) {
	if c.step != stepInitialSent {
		return nil, fmt.Errorf("scram: FinalResponse called out of order")
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(serverFirstMessage))
	if err != nil {
		return nil, fmt.Errorf("scram: parsing server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, c.clientNonce) {
		return nil, errors.New("scram: server nonce does not extend client nonce")
	}

	c.saltedPassword = pbkdf2.Key([]byte(c.password), salt, iterations, sha256.Size, sha256.New)

	clientKey := hmacSum(c.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)

	c.authMessage = c.clientFirstBare + "," + string(serverFirstMessage) + "," + clientFinalWithoutProof

	clientSignature := hmacSum(storedKey, []byte(c.authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinal := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)

	c.step = stepFinalSent
	return []byte(clientFinal), nil
}

// VerifyServerFinal checks the AuthenticationSASLFinal payload against the
// signature this Client expects, proving the server also knows the
// password. It must be called last, exactly once.
func (c *Client) VerifyServerFinal(serverFinalMessage []byte) error {
	if c.step != stepFinalSent {
		return fmt.Errorf("scram: VerifyServerFinal called out of order")
	}
	c.step = stepDone

	serverKey := hmacSum(c.saltedPassword, []byte("Server Key"))
	expectedSig := hmacSum(serverKey, []byte(c.authMessage))
	expected := "v=" + base64.StdEncoding.EncodeToString(expectedSig)

	if string(serverFinalMessage) != expected {
		return errors.New("scram: server signature mismatch")
	}
	return nil
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("parsing iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

// escapeUsername replaces "=" with "=3D" and "," with "=2C" per RFC 5802 §5.1.
func escapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
